package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeArtifact(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeUploadsMultipart(t *testing.T) {
	var gotField, gotFilename string
	var gotBytes []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transcribe" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		for field, headers := range r.MultipartForm.File {
			gotField = field
			gotFilename = headers[0].Filename
			f, _ := headers[0].Open()
			buf := make([]byte, headers[0].Size)
			f.Read(buf)
			gotBytes = buf
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","model_used":"gpt-4o-mini-transcribe","processing_time_ms":412,"estimated_cost":0.0003,"estimated_minutes":0.1}`))
	}))
	defer srv.Close()

	path := writeArtifact(t, "session.wav", []byte("RIFFfake"))
	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())

	res, err := c.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}

	if gotField != "audio" {
		t.Errorf("expected form field 'audio', got %q", gotField)
	}
	if gotFilename != "session.wav" {
		t.Errorf("expected filename session.wav, got %q", gotFilename)
	}
	if string(gotBytes) != "RIFFfake" {
		t.Errorf("uploaded bytes do not match artifact")
	}
	if res.Text != "hello world" {
		t.Errorf("expected transcript, got %q", res.Text)
	}
	if res.ModelUsed != "gpt-4o-mini-transcribe" {
		t.Errorf("unexpected model %q", res.ModelUsed)
	}
}

func TestTranscribeRejectsUnsupportedFormat(t *testing.T) {
	path := writeArtifact(t, "session.flac", []byte("fLaC"))
	c := NewClient("http://127.0.0.1:0", time.Second, zerolog.Nop())

	if _, err := c.Transcribe(context.Background(), path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestTranscribeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Empty audio file","detail":"HTTP 400"}`))
	}))
	defer srv.Close()

	path := writeArtifact(t, "session.wav", []byte("RIFF"))
	c := NewClient(srv.URL, time.Second, zerolog.Nop())

	_, err := c.Transcribe(context.Background(), path)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "transcription failed: Empty audio file" {
		t.Errorf("expected service error message, got %q", got)
	}
}

func TestTranscribeMissingArtifact(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", time.Second, zerolog.Nop())
	if _, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav")); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"PolyVoice Transcription API","version":"1.0.0","openai_configured":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	h, err := c.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if h.Status != "healthy" || !h.OpenAIConfigured {
		t.Errorf("unexpected health payload: %+v", h)
	}
}
