// Package anthropicmodel adapts the Anthropic Messages API to the eino chat
// model interface.
package anthropicmodel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultMaxTokens = 1024

var (
	ErrMissingAPIKey = errors.New("Anthropic API key not configured")
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
}

// ChatModel implements model.BaseChatModel on the Anthropic Messages API.
type ChatModel struct {
	client anthropic.Client
	cfg    Config
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// New builds a ChatModel. Extra request options are appended after the ones
// derived from cfg.
func New(cfg Config, extra ...option.RequestOption) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-latest"
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	options = append(options, extra...)

	return &ChatModel{
		client: anthropic.NewClient(options...),
		cfg:    cfg,
	}, nil
}

// Generate sends the conversation; system turns become the request's system
// prompt.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
		Model:       &m.cfg.Model,
	}, opts...)

	messages, system := convertMessages(input)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.cfg.Model),
		MaxTokens: defaultMaxTokens,
		Messages:  messages,
	}
	if options.Model != nil && *options.Model != "" {
		params.Model = anthropic.Model(*options.Model)
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		params.MaxTokens = int64(*options.MaxTokens)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if options.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*options.Temperature))
	}
	if options.TopP != nil {
		params.TopP = anthropic.Float(float64(*options.TopP))
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		content.WriteString(block.Text)
	}
	if content.Len() == 0 {
		return nil, ErrEmptyContent
	}

	return schema.AssistantMessage(content.String(), nil), nil
}

// Stream returns the full completion as a single-chunk stream.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// blankTurn replaces whitespace-only text, which the Messages API rejects.
const blankTurn = "(enter)"

// convertMessages splits system turns off the conversation.
func convertMessages(input []*schema.Message) ([]anthropic.MessageParam, string) {
	messages := make([]anthropic.MessageParam, 0, len(input))
	var system []string
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.User:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(nonBlank(msg.Content))))
		case schema.Assistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(nonBlank(msg.Content))))
		}
	}
	return messages, strings.Join(system, "\n\n")
}

func nonBlank(text string) string {
	if strings.TrimSpace(text) == "" {
		return blankTurn
	}
	return text
}
