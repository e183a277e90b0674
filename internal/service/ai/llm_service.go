package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/llmpot/internal/logging"
	"github.com/zhouzirui/llmpot/internal/model/chat"
	"github.com/zhouzirui/llmpot/internal/model/persona"
	chatService "github.com/zhouzirui/llmpot/internal/service/chat"
)

var (
	// ErrGeneration wraps every failure of the text-completion provider. It is
	// transient: callers retry it.
	ErrGeneration      = errors.New("response generation failed")
	ErrPersonaNotFound = errors.New("persona not found")
)

// Markers sent in place of blank user input. The first one opens the session.
const (
	LoginInput = "(login)"
	BlankInput = "(enter)"
)

// Config tunes the engine.
type Config struct {
	// Timeout bounds a single completion call; zero disables it.
	Timeout time.Duration
	// HistoryLimit caps how many non-system turns are sent; zero sends all.
	HistoryLimit int
}

// Service is the conversation engine: it keeps each session's transcript in
// the registry and asks the chat model for the next shell response.
type Service struct {
	chatModel model.BaseChatModel
	personas  persona.Store
	sessions  *chatService.Service
	prompts   *PersonaPromptManager
	cfg       Config
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, personas persona.Store, sessions *chatService.Service, cfg Config) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		personas:  personas,
		sessions:  sessions,
		prompts:   NewPersonaPromptManager(),
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// SystemPrompt returns the fixed system turn for username on the persona.
func (s *Service) SystemPrompt(personaID, username string) (string, error) {
	p, ok := s.personas.FindByID(personaID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPersonaNotFound, personaID)
	}
	return s.prompts.BuildSystemPrompt(&p, username), nil
}

// Respond appends text as a user turn and returns the assistant's reply,
// which is appended as well.
func (s *Service) Respond(ctx context.Context, sessionID, text string) (string, error) {
	if err := s.Submit(ctx, sessionID, text); err != nil {
		return "", err
	}
	return s.Complete(ctx, sessionID)
}

// Submit appends text as a user turn.
func (s *Service) Submit(ctx context.Context, sessionID, text string) error {
	_, err := s.sessions.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   text,
	})
	return err
}

// Complete sends the transcript to the chat model and appends the reply as an
// assistant turn. Provider failures are wrapped in ErrGeneration and leave the
// transcript untouched, so Complete may be retried.
func (s *Service) Complete(ctx context.Context, sessionID string) (string, error) {
	transcript, err := s.sessions.LoadTranscript(ctx, sessionID)
	if err != nil {
		return "", err
	}

	input := s.buildChainInput(transcript)

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	response, err := s.chain.Invoke(callCtx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if response == nil || response.Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGeneration)
	}

	text := NormalizeResponse(response.Content)
	if _, err := s.sessions.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   text,
	}); err != nil {
		return "", err
	}

	logging.FromContext(ctx).
		WithField("turns", len(transcript)).
		WithField("elapsed", time.Since(started).Round(time.Millisecond)).
		Debugf("[ai] generated response length=%d", len(text))
	return text, nil
}

// buildChainInput maps the transcript onto the prompt template variables.
func (s *Service) buildChainInput(transcript []chat.Message) map[string]any {
	system := ""
	turns := transcript
	if len(turns) > 0 && turns[0].Role == chat.RoleSystem {
		system = turns[0].Content
		turns = turns[1:]
	}

	return map[string]any{
		"system":  system,
		"history": s.buildHistoryMessages(turns),
	}
}

// buildHistoryMessages windows the turns to HistoryLimit, starting on a user
// turn, and replaces blank user input with a marker the providers accept.
func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	startIdx := 0
	if s.cfg.HistoryLimit > 0 && len(messages) > s.cfg.HistoryLimit {
		startIdx = len(messages) - s.cfg.HistoryLimit
		for startIdx < len(messages)-1 && messages[startIdx].Role != chat.RoleUser {
			startIdx++
		}
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for i, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			content := msg.Content
			if strings.TrimSpace(content) == "" {
				if startIdx+i == 0 {
					content = LoginInput
				} else {
					content = BlankInput
				}
			}
			history = append(history, schema.UserMessage(content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
