// Package openaimodel adapts the OpenAI chat completions API to the eino
// chat model interface used by the conversation engine.
package openaimodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	ErrMissingAPIKey = errors.New("OpenAI API key not configured")
	ErrNoChoices     = errors.New("no response choices returned")
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

// ChatModel implements model.BaseChatModel on top of openai-go.
type ChatModel struct {
	client openai.Client
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
		cfg.Model = "gpt-4o"
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	options = append(options, extra...)

	return &ChatModel{
		client: openai.NewClient(options...),
		cfg:    cfg,
	}, nil
}

// Generate sends the ordered messages and returns the first choice.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
		Model:       &m.cfg.Model,
	}, opts...)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.cfg.Model),
		Messages: convertMessages(input),
	}
	if options.Model != nil && *options.Model != "" {
		params.Model = openai.ChatModel(*options.Model)
	}
	if options.Temperature != nil {
		params.Temperature = openai.Float(float64(*options.Temperature))
	}
	if options.TopP != nil {
		params.TopP = openai.Float(float64(*options.TopP))
	}
	if options.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*options.MaxTokens))
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrNoChoices
	}

	return schema.AssistantMessage(completion.Choices[0].Message.Content, nil), nil
}

// Stream returns the full completion as a single-chunk stream.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func convertMessages(input []*schema.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case schema.User:
			messages = append(messages, openai.UserMessage(msg.Content))
		case schema.Assistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return messages
}
