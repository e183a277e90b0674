package geminimodel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMapsRolesAndSkipsThoughts(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {
					"role": "model",
					"parts": [
						{"text": "planning the listing", "thought": true},
						{"text": "uid=0(root) gid=0(root)\nroot@db-replica:~# "}
					]
				}
			}]
		}`))
	}))
	defer srv.Close()

	m, err := New(context.Background(), Config{
		APIKey:     "test-key",
		Model:      "gemini-test",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	out, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are a Linux host."),
		schema.UserMessage("whoami"),
		schema.AssistantMessage("root\nroot@db-replica:~# ", nil),
		schema.UserMessage("id"),
	})
	require.NoError(t, err)
	assert.Equal(t, "uid=0(root) gid=0(root)\nroot@db-replica:~# ", out.Content)

	contents := captured["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.Contains(t, captured, "systemInstruction")
}

func TestGenerateNeverSendsBlankParts(t *testing.T) {
	var captured struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"role": "model", "parts": [{"text": "$ "}]}}]}`))
	}))
	defer srv.Close()

	m, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{
		schema.UserMessage(""),
		schema.AssistantMessage("Welcome\n$ ", nil),
		schema.UserMessage(" "),
	})
	require.NoError(t, err)

	require.Len(t, captured.Contents, 3)
	for _, content := range captured.Contents {
		for _, part := range content.Parts {
			assert.NotEmpty(t, strings.TrimSpace(part.Text), "blank %s part", content.Role)
		}
	}
	assert.Equal(t, blankTurn, captured.Contents[0].Parts[0].Text)
}

func TestGenerateEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	m, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("ls")})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
