package audio

import (
	"math"
	"time"
)

// Samples decodes little-endian PCM16 bytes into int16 samples. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// FromSamples encodes int16 samples as little-endian PCM16 bytes.
func FromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCMDuration returns the playback length of n bytes of mono PCM16 at rate.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(rate)
}

// MeanAbsDeviation returns the mean absolute deviation of the samples from
// their mean. The mean acts as the silence baseline, so a DC offset on the
// line does not read as energy.
func MeanAbsDeviation(pcm []byte) float64 {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var dev float64
	for _, s := range samples {
		dev += math.Abs(float64(s) - mean)
	}
	return dev / float64(len(samples))
}

// Tone synthesizes a sine wave of freq Hz lasting d at rate. amplitude is a
// fraction of full scale in [0, 1].
func Tone(freq float64, d time.Duration, rate int, amplitude float64) []byte {
	n := int(d * time.Duration(rate) / time.Second)
	samples := make([]int16, n)
	for i := range samples {
		v := amplitude * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		samples[i] = clamp16(v)
	}
	return FromSamples(samples)
}

// SplitFrames cuts data into consecutive slices of size bytes. The last slice
// may be shorter. The slices alias data.
func SplitFrames(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		frames = append(frames, data[:n])
		data = data[n:]
	}
	return frames
}
