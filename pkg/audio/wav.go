package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// wavHeaderSize is the size of a canonical PCM WAV header.
const wavHeaderSize = 44

// ErrInvalidWAV is returned (wrapped) by [ParseWAV] for inputs that are not
// 16-bit PCM RIFF/WAVE files.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// ParseWAV reads a RIFF/WAVE file from r and returns its format together with
// the raw PCM payload of the data chunk. Only uncompressed 16-bit PCM is
// accepted. Unknown chunks (LIST, fact, ...) are skipped.
func ParseWAV(r io.Reader) (Format, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Format{}, nil, fmt.Errorf("audio: read WAV: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       Format
		haveFmt bool
		pcm     []byte
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) || end < body {
			// Streaming writers leave the size at 0 or 0xFFFFFFFF; take the rest.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Format{}, nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			chunk := data[body:end]
			audioFormat := binary.LittleEndian.Uint16(chunk[0:2])
			bits := binary.LittleEndian.Uint16(chunk[14:16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which still carries PCM for 16-bit.
			if (audioFormat != 1 && audioFormat != 0xFFFE) || bits != BitsPerSample {
				return Format{}, nil, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalidWAV, audioFormat, bits)
			}
			f = Format{
				Channels:   int(binary.LittleEndian.Uint16(chunk[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(chunk[4:8])),
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}

		pos = end
		if pos%2 != 0 {
			pos++
		}
	}

	if !haveFmt || !f.Valid() {
		return Format{}, nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	if pcm == nil {
		return Format{}, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}
	// Drop a trailing partial frame.
	pcm = pcm[:len(pcm)-len(pcm)%f.FrameSize()]
	return f, pcm, nil
}

// EncodeWAVHeader returns a canonical 44-byte PCM WAV header for dataSize
// bytes of audio in format f. A dataSize of 0 produces the open-ended header
// streaming recognizers expect on their first audio frame.
func EncodeWAVHeader(f Format, dataSize int) []byte {
	buf := make([]byte, wavHeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}

// EncodeWAV wraps pcm in a complete WAV container.
func EncodeWAV(f Format, pcm []byte) []byte {
	out := make([]byte, 0, wavHeaderSize+len(pcm))
	out = append(out, EncodeWAVHeader(f, len(pcm))...)
	return append(out, pcm...)
}
