package audio

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrInvalidRate is returned when a sample rate is not positive.
var ErrInvalidRate = errors.New("audio: invalid sample rate")

// sincZeroCrossings is the number of sinc zero crossings kept on each side of
// the interpolation point. Higher values sharpen the anti-alias filter.
const sincZeroCrossings = 16

// Resample converts mono PCM16 from fromRate to toRate with windowed-sinc
// (Blackman) band-limited interpolation. The filter cutoff follows the lower
// of the two Nyquist frequencies, so downsampling does not alias.
//
// The output holds round(n*toRate/fromRate) samples. When the rates match a
// copy of the input is returned.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, fromRate, toRate)
	}
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	if fromRate == toRate {
		return slices.Clone(pcm), nil
	}

	in := Samples(pcm)
	n := len(in)
	outLen := int(math.Round(float64(n) * float64(toRate) / float64(fromRate)))
	if n == 0 || outLen == 0 {
		return []byte{}, nil
	}

	ratio := float64(toRate) / float64(fromRate)
	cutoff := math.Min(1, ratio)
	halfWidth := sincZeroCrossings / cutoff

	out := make([]int16, outLen)
	for i := range out {
		center := float64(i) / ratio
		lo := max(int(math.Ceil(center-halfWidth)), 0)
		hi := min(int(math.Floor(center+halfWidth)), n-1)

		var acc, wsum float64
		for j := lo; j <= hi; j++ {
			x := float64(j) - center
			w := cutoff * sinc(cutoff*x) * blackman(x/halfWidth)
			acc += w * float64(in[j])
			wsum += w
		}
		if wsum != 0 {
			acc /= wsum
		}
		out[i] = clamp16(acc)
	}
	return FromSamples(out), nil
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackman evaluates the Blackman window at t in [-1, 1].
func blackman(t float64) float64 {
	if t <= -1 || t >= 1 {
		return 0
	}
	return 0.42 + 0.5*math.Cos(math.Pi*t) + 0.08*math.Cos(2*math.Pi*t)
}

// clamp16 rounds v and saturates it to the int16 range.
func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
