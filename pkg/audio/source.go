package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// Source is a readable PCM stream of a known format.
type Source interface {
	io.Reader

	// Format reports the format of the bytes returned by Read.
	Format() Format
}

// pcmSource serves an in-memory PCM buffer.
type pcmSource struct {
	*bytes.Reader
	format Format
	size   int
}

func (s *pcmSource) Format() Format { return s.format }

// Duration returns the total playback length of the buffer.
func (s *pcmSource) Duration() time.Duration { return s.format.Duration(s.size) }

// NewPCMSource returns a Source reading pcm in format f.
func NewPCMSource(f Format, pcm []byte) Source {
	return &pcmSource{Reader: bytes.NewReader(pcm), format: f, size: len(pcm)}
}

// NewWAVSource parses a WAV file from r and returns a Source already converted
// to target. An empty data chunk is accepted; the recognizer will then report
// no speech.
func NewWAVSource(r io.Reader, target Format) (Source, error) {
	f, pcm, err := ParseWAV(r)
	if err != nil {
		return nil, err
	}
	conv := FormatConverter{Target: target}
	out := conv.Convert(pcm, f)
	if out == nil && len(pcm) > 0 {
		return nil, fmt.Errorf("audio: cannot convert %s to %s", f, target)
	}
	return NewPCMSource(target, out), nil
}

// SourceDuration returns the total length of src when it is known, or 0.
func SourceDuration(src Source) time.Duration {
	if d, ok := src.(interface{ Duration() time.Duration }); ok {
		return d.Duration()
	}
	return 0
}

// ReadChunk reads up to size bytes from src, rounded down to a whole sample
// frame. It returns io.EOF only when no bytes remain.
func ReadChunk(src Source, size int) ([]byte, error) {
	fs := src.Format().FrameSize()
	if fs > 0 {
		size -= size % fs
	}
	if size <= 0 {
		return nil, errors.New("audio: chunk size smaller than one frame")
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(src, buf)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], nil
	case err != nil:
		return nil, err
	}
	return buf, nil
}
