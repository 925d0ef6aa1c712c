package audio

import "time"

// Frame represents a single chunk of decoded PCM handed over by the media
// transport. Frames are the atomic unit of audio flowing into the pipeline:
// the transport decodes whatever codec it speaks and delivers little-endian
// signed 16-bit samples here.
type Frame struct {
	// PCM audio data, interleaved when stereo.
	Data []byte

	// SampleRate in Hz (e.g., 48000 from WebRTC capture, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// SamplesPerChannel is the number of samples per channel in Data.
	SamplesPerChannel int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame, or zero when the
// frame does not describe a valid format.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.SamplesPerChannel <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// Valid reports whether the frame is structurally sound: a positive sample
// rate, 1 or 2 channels, and a byte count aligned to whole int16 samples
// across all channels.
func (f Frame) Valid() bool {
	if f.SampleRate <= 0 || (f.Channels != 1 && f.Channels != 2) {
		return false
	}
	if len(f.Data) == 0 || len(f.Data)%(2*f.Channels) != 0 {
		return false
	}
	return true
}
