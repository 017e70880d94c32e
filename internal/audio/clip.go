package audio

import (
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// Clip is a mono sound in float32 samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate uint32
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// fadeSamples keeps tone edges from clicking.
const fadeSamples = 64

// Tone synthesizes a sine beep at half amplitude.
func Tone(freqHz float64, d time.Duration, sampleRate uint32) Clip {
	n := int(d.Seconds() * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		gain := 0.5
		if i < fadeSamples {
			gain *= float64(i) / fadeSamples
		}
		if tail := n - 1 - i; tail < fadeSamples {
			gain *= float64(tail) / fadeSamples
		}
		samples[i] = float32(gain * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
	}
	return Clip{Samples: samples, SampleRate: sampleRate}
}

// LoadClip reads a PCM WAV file and downmixes it to mono.
func LoadClip(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, errors.Wrap(err, "opening beep file")
	}
	defer f.Close()

	clip, err := decodeWAV(f)
	if err != nil {
		return Clip{}, errors.Wrapf(err, "decoding %s", path)
	}
	return clip, nil
}

func decodeWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, errors.Wrap(err, "reading PCM data")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return Clip{}, errors.Errorf("unsupported bit depth %d", bitDepth)
	}
	scale := float64(int64(1) << uint(bitDepth-1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[i*channels+ch])
		}
		samples[i] = float32(sum / float64(channels) / scale)
	}

	return Clip{Samples: samples, SampleRate: uint32(buf.Format.SampleRate)}, nil
}
