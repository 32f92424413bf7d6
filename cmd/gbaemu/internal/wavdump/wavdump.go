// Package wavdump records the APU's resampled stereo stream to a WAV file
// for offline audio debugging, wired behind the -dumpwav flag. Grounded on
// the gopher2600 pack's use of github.com/go-audio/wav for its own audio
// capture tooling.
package wavdump

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const sampleRate = 48000

// Recorder accumulates interleaved stereo float32 samples and writes them
// out as a 16-bit PCM WAV file on Close.
type Recorder struct {
	f        *os.File
	enc      *wav.Encoder
	buf      *audio.IntBuffer
}

// Create opens path and prepares a stereo 16-bit PCM WAV encoder.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	return &Recorder{
		f:   f,
		enc: enc,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		},
	}, nil
}

// WriteSamples appends interleaved stereo float32 samples (range [-1,1]).
func (r *Recorder) WriteSamples(samples []float32) {
	data := make([]int, len(samples))
	for i, s := range samples {
		v := int(s * 32767)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		data[i] = v
	}
	r.buf.Data = data
	_ = r.enc.Write(r.buf)
}

// Close flushes the WAV header/trailer and closes the file.
func (r *Recorder) Close() error {
	if err := r.enc.Close(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
