package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// FormatConverter converts PCM buffers to a target format. It logs a warning
// on the first format mismatch and on the first misaligned buffer.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts pcm from format from to the converter's target. If the
// formats already match, pcm is returned unchanged (zero allocation).
// Conversion order: downmix first, then resample, so that multi-channel input
// is only resampled once.
//
// Only conversions to mono or to the same channel count are supported; any
// other channel change returns nil.
func (c *FormatConverter) Convert(pcm []byte, from Format) []byte {
	if !from.Valid() || len(pcm)%from.FrameSize() != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned PCM data, dropping buffer",
				"bytes", len(pcm),
				"format", from.String(),
			)
		})
		return nil
	}

	if from == c.Target {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", from.String(),
			"to", c.Target.String(),
		)
	})

	channels := from.Channels
	if channels != c.Target.Channels {
		if c.Target.Channels != 1 {
			return nil
		}
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	if from.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, channels, from.SampleRate, c.Target.SampleRate)
	}
	return pcm
}

// Downmix averages every interleaved frame of an n-channel stream into a
// single mono sample. Uses int32 arithmetic; the average of int16 values
// always fits int16 so no clamping is needed.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameSize := channels * 2
	frames := len(pcm) / frameSize
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameSize + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation. If the rates match or
// either is non-positive, the input is returned unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameSize := channels * 2
	srcFrames := len(pcm) / frameSize
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		off := frame*frameSize + ch*2
		return float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			v := sample(idx, ch)*(1-frac) + sample(next, ch)*frac
			binary.LittleEndian.PutUint16(out[i*frameSize+ch*2:], uint16(int16(v)))
		}
	}
	return out
}
