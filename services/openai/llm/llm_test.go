package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"jarvis/core"
	"jarvis/utils/retry"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *core.Logger {
	return core.NewZapLogger(zap.NewNop())
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*OpenAILLMService, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewOpenAILLMService(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
		Model:   "gemini-2.5-flash",
	}, testLogger())

	var slept []time.Duration
	s.retryer.WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	return s, &slept
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gemini-2.5-flash",
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"message": message, "type": "server_error"},
	})
}

func TestRespondAppendsTurns(t *testing.T) {
	var got openai.ChatCompletionRequest
	s, slept := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, " Water them at dawn. ")
	})

	conv := core.NewConversation("You are a farming assistant.")
	reply, err := s.Respond(context.Background(), conv, "when should I water tomatoes")
	require.NoError(t, err)

	assert.Equal(t, "Water them at dawn.", reply)
	assert.Empty(t, *slept)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[1].Role)
	assert.Equal(t, "when should I water tomatoes", got.Messages[1].Content)
	assert.Equal(t, "gemini-2.5-flash", got.Model)

	turns := conv.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, core.RoleAssistant, turns[2].Role)
	assert.Equal(t, "Water them at dawn.", turns[2].Text)
}

func TestRespondSendsWholeHistory(t *testing.T) {
	var calls int32
	var lastCount int
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		lastCount = len(req.Messages)
		writeCompletion(w, "ok")
	})

	conv := core.NewConversation("persona")
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.Respond(context.Background(), conv, text)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 3, calls)
	assert.Equal(t, 6, lastCount)
	assert.Equal(t, 7, conv.Len())
}

func TestRespondRetriesOnUnavailable(t *testing.T) {
	var calls int32
	s, slept := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "The model is overloaded. UNAVAILABLE")
			return
		}
		writeCompletion(w, "Try again later.")
	})

	var attempts []int
	s.OnRetry(func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	})

	conv := core.NewConversation("")
	reply, err := s.Respond(context.Background(), conv, "hello")
	require.NoError(t, err)

	assert.Equal(t, "Try again later.", reply)
	assert.EqualValues(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *slept)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRespondExhaustsRetries(t *testing.T) {
	var calls int32
	s, slept := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE")
	})

	conv := core.NewConversation("persona")
	_, err := s.Respond(context.Background(), conv, "hello")
	require.Error(t, err)

	assert.EqualValues(t, 6, calls)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}, *slept)

	// the user turn stays, no assistant turn is added
	turns := conv.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, core.RoleUser, turns[1].Role)
}

func TestRespondDoesNotRetryOtherErrors(t *testing.T) {
	var calls int32
	s, slept := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeError(w, http.StatusBadRequest, "invalid argument")
	})

	_, err := s.Respond(context.Background(), core.NewConversation(""), "hello")
	require.Error(t, err)

	var apiErr *openai.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatusCode)
	assert.EqualValues(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestCompleteMarksServiceUnavailable(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, int(status.Load()), "overloaded")
	})
	conv := core.NewConversation("persona")

	_, err := s.Complete(context.Background(), conv)
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))

	var apiErr *openai.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.HTTPStatusCode)

	status.Store(http.StatusTooManyRequests)
	_, err = s.Complete(context.Background(), conv)
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestRespondNoChoices(t *testing.T) {
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	})

	_, err := s.Respond(context.Background(), core.NewConversation(""), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestRespondRequiresAPIKey(t *testing.T) {
	s := NewOpenAILLMService(Config{Model: "m"}, testLogger())
	conv := core.NewConversation("")

	_, err := s.Respond(context.Background(), conv, "hello")
	require.Error(t, err)
	assert.Equal(t, 0, conv.Len())
}

func TestIsTransient(t *testing.T) {
	s := NewOpenAILLMService(Config{APIKey: "k"}, testLogger())

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marker unavailable", errors.New("rpc error: code = UNAVAILABLE"), true},
		{"marker 503", errors.New("upstream said 503"), true},
		{"api 503", markOverload(&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}), true},
		{"request 503", markOverload(&openai.RequestError{HTTPStatusCode: 503, Err: errors.New("bad gateway body")}), true},
		{"api 429", markOverload(&openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}), false},
		{"marked", retry.MarkTransient(errors.New("connection reset")), true},
		{"plain", errors.New("invalid api key"), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsTransient(tt.err))
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	s := NewOpenAILLMService(Config{APIKey: "k"}, nil)
	assert.Equal(t, retry.DefaultPolicy(), s.retryer.Policy())
	assert.Equal(t, DefaultTransientMarkers, s.config.TransientMarkers)
}
