package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jarvis/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeAudio(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.wav")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func newTestService(t *testing.T, handler http.HandlerFunc) *DeepgramSTTService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "dg-key"
	cfg.BaseURL = srv.URL
	cfg.SmartFormat = true
	return NewDeepgramSTTService(cfg, core.NewZapLogger(zap.NewNop()))
}

const helloWorld = `{
  "metadata": {"request_id": "req-1", "duration": 1.2, "channels": 1},
  "results": {"channels": [{"alternatives": [{
    "transcript": "hello world",
    "confidence": 0.98,
    "words": [
      {"word": "hello", "start": 0.1, "end": 0.4, "confidence": 0.99},
      {"word": "world", "start": 0.5, "end": 0.9, "confidence": 0.97}
    ]
  }]}]}
}`

func TestTranscribeJoinsWords(t *testing.T) {
	audio := []byte("RIFF....WAVEfmt fake audio bytes")
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		assert.Equal(t, "true", r.URL.Query().Get("smart_format"))
		assert.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, audio, body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(helloWorld))
	})

	got, err := svc.Transcribe(context.Background(), writeAudio(t, audio))
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestTranscribeSkipsEntriesWithoutWord(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"words":[
			{"word":"turn"},
			{"start":0.3,"end":0.4},
			{"word":"the"},
			{"word":"sprinklers"},
			{"word":"on"}
		]}]}]}}`))
	})

	got, err := svc.Transcribe(context.Background(), writeAudio(t, []byte("audio")))
	require.NoError(t, err)
	assert.Equal(t, "turn the sprinklers on", got)
}

func TestTranscribeNoAlternatives(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metadata":{"request_id":"r"},"results":{"channels":[]}}`))
	})

	got, err := svc.Transcribe(context.Background(), writeAudio(t, []byte("audio")))
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestTranscribeAPIError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"err_code":"INVALID_AUTH","err_msg":"Invalid credentials."}`))
	})

	_, err := svc.Transcribe(context.Background(), writeAudio(t, []byte("audio")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "INVALID_AUTH")
}

func TestTranscribeMalformedBody(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":`))
	})

	_, err := svc.Transcribe(context.Background(), writeAudio(t, []byte("audio")))
	assert.Error(t, err)
}

func TestTranscribeEmptyFile(t *testing.T) {
	called := false
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := svc.Transcribe(context.Background(), writeAudio(t, nil))
	assert.ErrorIs(t, err, ErrEmptyAudio)
	assert.False(t, called)
}

func TestTranscribeMissingFile(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := svc.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestTranscribeRequiresAPIKey(t *testing.T) {
	svc := NewDeepgramSTTService(DefaultConfig(), nil)
	_, err := svc.Transcribe(context.Background(), writeAudio(t, []byte("audio")))
	assert.ErrorContains(t, err, "API key")
}

func TestTranscribeHonoursContext(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Transcribe(ctx, writeAudio(t, []byte("audio")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJoinWords(t *testing.T) {
	hello, world := "hello", "world"
	assert.Equal(t, "hello world", JoinWords([]Word{{Word: &hello}, {Word: &world}}))
	assert.Equal(t, "world", JoinWords([]Word{{}, {Word: &world}}))
	assert.Equal(t, "", JoinWords(nil))
}
