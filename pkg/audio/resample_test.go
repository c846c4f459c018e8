package audio_test

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/telvoxa/pkg/audio"
)

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// middle drops the filter warm-up at both ends of a resampled signal.
func middle(samples []int16) []int16 {
	edge := len(samples) / 8
	return samples[edge : len(samples)-edge]
}

func TestResample_Identity(t *testing.T) {
	t.Parallel()

	in := audio.Tone(440, 100*time.Millisecond, 8000, 0.5)
	out, err := audio.Resample(in, 8000, 8000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("identity resample changed the signal")
	}
	out[0] ^= 0xFF
	if bytes.Equal(in, out) {
		t.Fatal("identity resample must return a copy")
	}
}

func TestResample_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		samples  int
		from, to int
	}{
		{"8k to 16k", 160, 8000, 16000},
		{"16k to 8k", 320, 16000, 8000},
		{"8k to 24k", 160, 8000, 24000},
		{"24k to 8k", 480, 24000, 8000},
		{"odd count down", 333, 24000, 8000},
		{"odd count up", 7, 8000, 24000},
		{"22050 to 8k", 2205, 22050, 8000},
		{"single sample", 1, 16000, 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := make([]byte, tt.samples*2)
			out, err := audio.Resample(in, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			want := math.Round(float64(tt.samples) * float64(tt.to) / float64(tt.from))
			got := float64(len(out) / 2)
			if math.Abs(got-want) > 1 {
				t.Errorf("output samples = %v, want %v ±1", got, want)
			}
		})
	}
}

func TestResample_UpsamplePreservesOriginalSamples(t *testing.T) {
	t.Parallel()

	in := bytesToSamples(audio.Tone(300, 50*time.Millisecond, 8000, 0.4))
	outBytes, err := audio.Resample(samplesToBytes(in), 8000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	out := bytesToSamples(outBytes)
	for i, s := range in {
		if d := abs(int(out[2*i]) - int(s)); d > 1 {
			t.Fatalf("sample %d: got %d, want %d", 2*i, out[2*i], s)
		}
	}
}

func TestResample_PassbandKeepsLevel(t *testing.T) {
	t.Parallel()

	for _, to := range []int{16000, 24000} {
		in := audio.Tone(500, 200*time.Millisecond, 8000, 0.5)
		out, err := audio.Resample(in, 8000, to)
		if err != nil {
			t.Fatalf("Resample to %d: %v", to, err)
		}
		inRMS := rms(middle(bytesToSamples(in)))
		outRMS := rms(middle(bytesToSamples(out)))
		if ratio := outRMS / inRMS; ratio < 0.95 || ratio > 1.05 {
			t.Errorf("8000->%d: RMS ratio %.3f, want ~1", to, ratio)
		}
	}
}

func TestResample_DownsampleRejectsAliases(t *testing.T) {
	t.Parallel()

	// 6 kHz is above the 4 kHz Nyquist limit of the 8 kHz output and must be
	// filtered rather than folded back to 2 kHz.
	for _, from := range []int{16000, 24000} {
		in := audio.Tone(6000, 200*time.Millisecond, from, 0.5)
		out, err := audio.Resample(in, from, 8000)
		if err != nil {
			t.Fatalf("Resample from %d: %v", from, err)
		}
		inRMS := rms(middle(bytesToSamples(in)))
		outRMS := rms(middle(bytesToSamples(out)))
		if outRMS > 0.05*inRMS {
			t.Errorf("%d->8000: alias RMS %.1f exceeds 5%% of input %.1f", from, outRMS, inRMS)
		}
	}
}

func TestResample_ClampsOvershoot(t *testing.T) {
	t.Parallel()

	// A full-scale square wave rings past int16 range when interpolated.
	samples := make([]int16, 200)
	for i := range samples {
		if (i/4)%2 == 0 {
			samples[i] = math.MaxInt16
		} else {
			samples[i] = math.MinInt16
		}
	}
	out, err := audio.Resample(samplesToBytes(samples), 8000, 24000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	got := bytesToSamples(out)
	for i := 1; i < len(got); i++ {
		// Wraparound would show up as a jump of nearly the full range.
		if abs(int(got[i])-int(got[i-1])) > 40000 {
			t.Fatalf("sample %d jumps from %d to %d: overflow wraparound", i, got[i-1], got[i])
		}
	}
}

func TestResample_Errors(t *testing.T) {
	t.Parallel()

	if _, err := audio.Resample([]byte{0, 0}, 0, 8000); !errors.Is(err, audio.ErrInvalidRate) {
		t.Errorf("zero rate: err = %v, want ErrInvalidRate", err)
	}
	if _, err := audio.Resample([]byte{0, 0}, 8000, -1); !errors.Is(err, audio.ErrInvalidRate) {
		t.Errorf("negative rate: err = %v, want ErrInvalidRate", err)
	}
	if _, err := audio.Resample([]byte{0, 0, 0}, 8000, 16000); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("odd length: err = %v, want ErrOddLength", err)
	}
}

func TestResample_Empty(t *testing.T) {
	t.Parallel()

	out, err := audio.Resample(nil, 8000, 16000)
	if err != nil {
		t.Fatalf("Resample(nil): %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}
