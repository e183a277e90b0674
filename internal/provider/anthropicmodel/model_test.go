package anthropicmodel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSendsSystemSeparately(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-latest",
			"content": [{"type": "text", "text": "total 0\nalice@forge-ws07:~$ "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	m, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	out, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are a Linux host."),
		schema.UserMessage(""),
		schema.AssistantMessage("Welcome\n$ ", nil),
		schema.UserMessage("ls"),
	})
	require.NoError(t, err)
	assert.Equal(t, "total 0\nalice@forge-ws07:~$ ", out.Content)

	system, ok := captured["system"].([]any)
	require.True(t, ok, "system must be sent as text blocks")
	require.Len(t, system, 1)
	assert.Equal(t, "You are a Linux host.", system[0].(map[string]any)["text"])

	messages := captured["messages"].([]any)
	require.Len(t, messages, 3)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
	assert.Equal(t, float64(defaultMaxTokens), captured["max_tokens"])
}

func TestGenerateNeverSendsBlankText(t *testing.T) {
	var captured struct {
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_03","type":"message","role":"assistant","model":"m","content":[{"type":"text","text":"$ "}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	m, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{
		schema.UserMessage(""),
		schema.AssistantMessage("Welcome\n$ ", nil),
		schema.UserMessage("  \n"),
	})
	require.NoError(t, err)

	require.Len(t, captured.Messages, 3)
	for _, msg := range captured.Messages {
		for _, block := range msg.Content {
			assert.NotEmpty(t, strings.TrimSpace(block.Text), "blank %s text block", msg.Role)
		}
	}
	assert.Equal(t, blankTurn, captured.Messages[0].Content[0].Text)
}

func TestGenerateEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_02","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":1,"output_tokens":0}}`))
	}))
	defer srv.Close()

	m, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("id")})
	assert.True(t, errors.Is(err, ErrEmptyContent))
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
