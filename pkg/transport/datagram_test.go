package transport_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mvolkert/ekho/pkg/transport"
)

func TestDatagram_EncodeOmitsUnusedFields(t *testing.T) {
	got := transport.AgentInterrupted().Encode()
	want := `{"type":"agent_interrupted"}`
	if string(got) != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}
}

func TestDatagram_TranscriptRoundTrip(t *testing.T) {
	d := transport.Transcript(transport.TypeASRPartial, "hello there")
	decoded, err := transport.DecodeDatagram(d.Encode())
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if decoded.Type != transport.TypeASRPartial || decoded.Text != "hello there" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDatagram_TTSChunk(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	d := transport.TTSChunk(pcm, 2, 7)
	if d.Segment != 2 || d.Frame != 7 {
		t.Errorf("indices = segment %d frame %d, want 2/7", d.Segment, d.Frame)
	}

	var wire map[string]any
	if err := json.Unmarshal(d.Encode(), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire["type"] != "tts_chunk" {
		t.Errorf("type = %v", wire["type"])
	}

	got, err := d.DecodeAudio()
	if err != nil {
		t.Fatalf("DecodeAudio: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("audio round trip: got %v, want %v", got, pcm)
	}
}

func TestDecodeDatagram_Malformed(t *testing.T) {
	cases := []string{
		"not json",
		`{"text":"no type"}`,
		`{"type":""}`,
		"",
	}
	for _, c := range cases {
		if _, err := transport.DecodeDatagram([]byte(c)); err == nil {
			t.Errorf("DecodeDatagram(%q): expected error", c)
		}
	}
}

func TestDecodeDatagram_BargeIn(t *testing.T) {
	d, err := transport.DecodeDatagram([]byte(`{"type":"barge_in"}`))
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if d.Type != transport.TypeBargeIn {
		t.Errorf("type = %s, want barge_in", d.Type)
	}
}
