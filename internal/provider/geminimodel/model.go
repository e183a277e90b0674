// Package geminimodel adapts the Gemini generateContent API to the eino chat
// model interface.
package geminimodel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

var (
	ErrMissingAPIKey = errors.New("Gemini API key not configured")
	ErrEmptyContent  = errors.New("no text content returned")
)

// Config holds the request defaults for the adapter.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	HTTPClient  *http.Client
}

// ChatModel implements model.BaseChatModel on top of genai.
type ChatModel struct {
	client *genai.Client
	cfg    Config
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// New builds a ChatModel against the Gemini API backend.
func New(ctx context.Context, cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &ChatModel{client: client, cfg: cfg}, nil
}

// Generate sends the conversation with system turns as the system instruction.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
		Model:       &m.cfg.Model,
	}, opts...)

	contents, system := convertMessages(input)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if options.Temperature != nil {
		config.Temperature = options.Temperature
	}
	if options.TopP != nil {
		config.TopP = options.TopP
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(*options.MaxTokens)
	}

	modelName := m.cfg.Model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	result, err := m.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	text := responseText(result)
	if text == "" {
		return nil, ErrEmptyContent
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream returns the full completion as a single-chunk stream.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// blankTurn replaces empty text parts, which generateContent rejects.
const blankTurn = "(enter)"

func convertMessages(input []*schema.Message) ([]*genai.Content, string) {
	contents := make([]*genai.Content, 0, len(input))
	var system []string
	for _, msg := range input {
		if msg == nil {
			continue
		}
		role := genai.RoleUser
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
			continue
		case schema.Assistant:
			role = genai.RoleModel
		case schema.User:
		default:
			continue
		}
		text := msg.Content
		if strings.TrimSpace(text) == "" {
			text = blankTurn
		}
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  role,
		})
	}
	return contents, strings.Join(system, "\n\n")
}

// responseText joins the text parts of the first candidate, skipping thoughts.
func responseText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
