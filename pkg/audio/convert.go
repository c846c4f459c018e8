package audio

import "fmt"

// ToTelephony resamples PCM16 at rate to 8 kHz and μ-law encodes it for the
// media channel.
func ToTelephony(pcm []byte, rate int) ([]byte, error) {
	narrow, err := Resample(pcm, rate, TelephonyRate)
	if err != nil {
		return nil, fmt.Errorf("audio: to telephony: %w", err)
	}
	return EncodeMulaw(narrow)
}
