package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Normalizer converts transport frames to the pipeline's working format:
// mono, signed 16-bit PCM at TargetRate. It logs a warning on the first
// format mismatch and on the first corrupt frame, then stays quiet.
// Create one per stream; not designed for shared use across goroutines.
type Normalizer struct {
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize returns the frame's PCM downmixed to mono and resampled to
// TargetRate. The second return value is false when the frame is malformed
// and must be dropped. If the source already matches the target format the
// input slice is returned unchanged (zero allocation).
func (n *Normalizer) Normalize(f Frame) ([]byte, bool) {
	if !f.Valid() {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: malformed PCM frame, dropping",
				"bytes", len(f.Data),
				"sampleRate", f.SampleRate,
				"channels", f.Channels,
			)
		})
		return nil, false
	}

	// Fast path: already mono at the target rate.
	if f.SampleRate == n.TargetRate && f.Channels == 1 {
		return f.Data, true
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(f.SampleRate, f.Channels),
			"to", formatString(n.TargetRate, 1),
		)
	})

	pcm := f.Data
	// Downmix first so the resampler only walks one channel.
	if f.Channels == 2 {
		pcm = DownmixToMono(pcm)
	}
	if f.SampleRate != n.TargetRate {
		pcm = Resample16(pcm, f.SampleRate, n.TargetRate)
	}
	return pcm, true
}

// DownmixToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16
// range.
func DownmixToMono(pcm []byte) []byte {
	// Each stereo frame is 4 bytes (2 bytes L + 2 bytes R).
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		// Clamp to int16 range.
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged. Quality target is intelligible
// speech, not musical fidelity.
func Resample16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
