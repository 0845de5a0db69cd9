package capture

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// artifactEncoder streams 16-bit mono frames into a WAV file as they arrive,
// so a finished session only needs the header finalized on close.
type artifactEncoder struct {
	file   *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	intBuf []int
	frames int
}

func newArtifactEncoder(path string, sampleRate int) (*artifactEncoder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact failed: %w", err)
	}
	return &artifactEncoder{
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

// WriteFrame appends one frame of samples to the artifact.
func (a *artifactEncoder) WriteFrame(samples []int16) error {
	if cap(a.intBuf) < len(samples) {
		a.intBuf = make([]int, len(samples))
	}
	buf := a.intBuf[:len(samples)]
	for i, v := range samples {
		buf[i] = int(v)
	}
	if err := a.enc.Write(&goaudio.IntBuffer{Format: a.format, Data: buf, SourceBitDepth: 16}); err != nil {
		return fmt.Errorf("wav write failed: %w", err)
	}
	a.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (a *artifactEncoder) Frames() int {
	return a.frames
}

// Close finalizes the WAV header and closes the file.
func (a *artifactEncoder) Close() error {
	encErr := a.enc.Close()
	fileErr := a.file.Close()
	if encErr != nil {
		return fmt.Errorf("wav close failed: %w", encErr)
	}
	return fileErr
}
