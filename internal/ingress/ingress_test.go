package ingress

import (
	"testing"
	"time"

	"github.com/mvolkert/ekho/pkg/audio"
)

func frame(samples int, rate, channels int) audio.Frame {
	return audio.Frame{
		Data:              make([]byte, samples*channels*2),
		SampleRate:        rate,
		Channels:          channels,
		SamplesPerChannel: samples,
	}
}

func TestIngest_AppendsNormalizedAudio(t *testing.T) {
	ring := audio.NewRing(PipelineRate) // 1s capacity
	in := New("ws_test", ring)

	// 20ms at 48kHz stereo should land as 20ms at 16kHz mono.
	in.Ingest(frame(960, 48000, 2))

	wantBytes := 320 * 2 // 320 samples of 16-bit PCM
	if got := ring.Len(); got != wantBytes {
		t.Errorf("ring.Len() = %d, want %d", got, wantBytes)
	}
	if in.Frames() != 1 {
		t.Errorf("Frames() = %d, want 1", in.Frames())
	}
}

func TestIngest_DropsMalformedFrames(t *testing.T) {
	ring := audio.NewRing(PipelineRate)
	in := New("ws_test", ring)

	bad := audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1, SamplesPerChannel: 3}
	in.Ingest(bad)

	if ring.Len() != 0 {
		t.Errorf("ring.Len() = %d, want 0", ring.Len())
	}
	if in.Malformed() != 1 {
		t.Errorf("Malformed() = %d, want 1", in.Malformed())
	}
	if in.Frames() != 0 {
		t.Errorf("Frames() = %d, want 0", in.Frames())
	}
}

func TestIngest_ActivityCallback(t *testing.T) {
	ring := audio.NewRing(PipelineRate)
	var touched int
	in := New("ws_test", ring, WithActivityFunc(func() { touched++ }))

	for range 3 {
		in.Ingest(frame(320, 16000, 1))
	}
	if touched != 3 {
		t.Errorf("activity callbacks = %d, want 3", touched)
	}
}

func TestIngest_PassthroughKeepsTiming(t *testing.T) {
	ring := audio.NewRing(PipelineRate)
	in := New("ws_test", ring)

	// 100ms of pipeline-format audio.
	in.Ingest(frame(1600, 16000, 1))

	got := audio.PCMDuration(ring.Snapshot(), PipelineRate)
	if got != 100*time.Millisecond {
		t.Errorf("buffered duration = %v, want 100ms", got)
	}
}
