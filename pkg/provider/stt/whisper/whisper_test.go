package whisper_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mvolkert/ekho/pkg/audio"
	"github.com/mvolkert/ekho/pkg/provider"
	"github.com/mvolkert/ekho/pkg/provider/stt/whisper"
)

func TestClient_Transcribe(t *testing.T) {
	var gotAuth, gotModel, gotLanguage string
	var gotFile []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")

		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		gotFile, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"tell me a fact about space"}`))
	}))
	defer srv.Close()

	c, err := whisper.New(srv.URL,
		whisper.WithAPIKey("sk-test"),
		whisper.WithModel("openai/whisper-large-v3-turbo"),
		whisper.WithLanguage("en"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wav := audio.EncodeWAV(make([]byte, 16000), 16000, 1)
	text, err := c.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "tell me a fact about space" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotModel != "openai/whisper-large-v3-turbo" {
		t.Errorf("model field = %q", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q", gotLanguage)
	}
	if len(gotFile) != len(wav) {
		t.Errorf("uploaded file size = %d, want %d", len(gotFile), len(wav))
	}
}

func TestClient_Transcribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Transcribe(context.Background(), []byte("RIFF"))
	if err == nil {
		t.Fatal("expected error")
	}
	var se *provider.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if se.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", se.Code)
	}
	if !provider.IsRetryable(err) {
		t.Error("503 should be retryable")
	}
}

func TestClient_Transcribe_ClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	_, err := c.Transcribe(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if provider.IsRetryable(err) {
		t.Error("400 must not be retryable")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Error("expected error for empty baseURL")
	}
}
