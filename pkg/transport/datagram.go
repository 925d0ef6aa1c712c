package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DatagramType enumerates the JSON message types exchanged with the client.
type DatagramType string

// Server → client datagram types.
const (
	TypeASRPartial       DatagramType = "asr_partial"
	TypeASRFinal         DatagramType = "asr_final"
	TypeLLMPartial       DatagramType = "llm_partial"
	TypeLLMFinal         DatagramType = "llm_final"
	TypeTTSChunk         DatagramType = "tts_chunk"
	TypeAgentInterrupted DatagramType = "agent_interrupted"
)

// Client → server datagram types.
const (
	TypeBargeIn       DatagramType = "barge_in"
	TypeClientSilence DatagramType = "client_silence"
)

// Datagram is the UTF-8 JSON message format on the data channel. Unused
// fields are omitted from the encoding.
type Datagram struct {
	Type DatagramType `json:"type"`

	// Text carries transcript or response content for the transcript and
	// response types.
	Text string `json:"text,omitempty"`

	// Audio is base64-encoded 16kHz mono PCM16, set on tts_chunk only.
	Audio string `json:"audio,omitempty"`

	// Segment and Frame are 1-based ordering indices on tts_chunk so the
	// client can reorder unreliable deliveries.
	Segment int `json:"segment,omitempty"`
	Frame   int `json:"frame,omitempty"`
}

// Transcript builds a text-carrying datagram.
func Transcript(t DatagramType, text string) Datagram {
	return Datagram{Type: t, Text: text}
}

// TTSChunk builds a tts_chunk datagram carrying one base64-encoded PCM frame.
func TTSChunk(pcm []byte, segment, frame int) Datagram {
	return Datagram{
		Type:    TypeTTSChunk,
		Audio:   base64.StdEncoding.EncodeToString(pcm),
		Segment: segment,
		Frame:   frame,
	}
}

// AgentInterrupted builds the barge-in acknowledgement datagram.
func AgentInterrupted() Datagram {
	return Datagram{Type: TypeAgentInterrupted}
}

// Encode serializes the datagram. Marshalling a Datagram cannot fail, so
// the result is returned directly.
func (d Datagram) Encode() []byte {
	b, _ := json.Marshal(d)
	return b
}

// DecodeDatagram parses an inbound payload. Unknown fields are ignored but
// a missing or empty type is rejected so malformed messages can be counted
// and dropped at the edge.
func DecodeDatagram(payload []byte) (Datagram, error) {
	var d Datagram
	if err := json.Unmarshal(payload, &d); err != nil {
		return Datagram{}, fmt.Errorf("transport: malformed datagram: %w", err)
	}
	if d.Type == "" {
		return Datagram{}, fmt.Errorf("transport: datagram missing type field")
	}
	return d, nil
}

// DecodeAudio returns the PCM payload of a tts_chunk datagram.
func (d Datagram) DecodeAudio() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(d.Audio)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base64 audio: %w", err)
	}
	return pcm, nil
}
