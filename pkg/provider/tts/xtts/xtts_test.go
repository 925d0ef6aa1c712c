package xtts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mvolkert/ekho/pkg/provider/tts"
	"github.com/mvolkert/ekho/pkg/provider/tts/xtts"
)

func TestClient_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/synthesize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Text     string `json:"text"`
			Voice    string `json:"voice"`
			Language string `json:"language"`
			Format   string `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Voice != "male_casual" || body.Language != "de" || body.Format != "wav" {
			t.Errorf("body = %+v", body)
		}
		w.Write([]byte("RIFF...."))
	}))
	defer srv.Close()

	c, err := xtts.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Synthesize(context.Background(), tts.Request{
		Text: "Hallo", Voice: "male_casual", Language: "de",
	}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}

func TestClient_Synthesize_Defaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != "female" || body["language"] != "en" {
			t.Errorf("defaults not applied: %v", body)
		}
		w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	c, _ := xtts.New(srv.URL)
	if _, err := c.Synthesize(context.Background(), tts.Request{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}
