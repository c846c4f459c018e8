package audio

import (
	"errors"
	"time"
)

// MulawSilence is the μ-law code for a zero sample.
const MulawSilence byte = 0xFF

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// ErrOddLength is returned when PCM16 input does not hold a whole number of
// samples.
var ErrOddLength = errors.New("audio: odd PCM16 byte length")

// mulawTable is the 256-entry G.711 expansion table.
var mulawTable [256]int16

func init() {
	for i := range mulawTable {
		u := ^byte(i)
		exponent := (u >> 4) & 0x07
		mantissa := int(u & 0x0F)
		sample := ((mantissa << 3) + mulawBias) << exponent
		sample -= mulawBias
		if u&0x80 != 0 {
			sample = -sample
		}
		mulawTable[i] = int16(sample)
	}
}

// MulawToLinear expands one μ-law byte to a linear 16-bit sample.
func MulawToLinear(u byte) int16 {
	return mulawTable[u]
}

// LinearToMulaw compresses one linear 16-bit sample to μ-law using the G.711
// segment/sign/magnitude quantizer.
func LinearToMulaw(sample int16) byte {
	s := int(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMulaw converts μ-law bytes to little-endian PCM16. The output is
// always twice the input length.
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := mulawTable[u]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeMulaw converts little-endian PCM16 to μ-law bytes. It returns
// [ErrOddLength] if pcm does not contain a whole number of samples.
func EncodeMulaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = LinearToMulaw(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	return out, nil
}

// MulawSilenceFrame returns d worth of μ-law silence at the telephony rate.
func MulawSilenceFrame(d time.Duration) []byte {
	n := int(d * TelephonyRate / time.Second)
	out := make([]byte, n)
	for i := range out {
		out[i] = MulawSilence
	}
	return out
}
