package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/docvisionai/backend/internal/config"
	"github.com/docvisionai/backend/internal/model/chat"
)

// SystemPersona is the fixed instruction sent ahead of every conversation.
const SystemPersona = "You are a highly knowledgeable radiologist assistant. Your job is to provide detailed and thorough answers based on the provided medical information, focusing on radiology-related inquiries. Please include explanations for your recommendations and consider all relevant medical factors."

// Service encapsulates the radiology completion chain.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *slog.Logger
}

// NewService creates the chat model from cfg and compiles the chain around it.
func NewService(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, logger)
}

// NewServiceWithModel compiles the chain around an already constructed model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
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
		chain:     runnable,
		logger:    logger,
	}, nil
}

// Complete sends persona + history + prompt and returns the assistant reply.
func (s *Service) Complete(ctx context.Context, history []chat.Message, userPrompt string) (string, error) {
	response, err := s.chain.Invoke(ctx, buildChainInput(history, userPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.logger.DebugContext(ctx, "completion finished", "history", len(history), "length", len(response.Content))
	return response.Content, nil
}

// Stream is Complete with incremental delivery of the reply.
func (s *Service) Stream(ctx context.Context, history []chat.Message, userPrompt string) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, buildChainInput(history, userPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func buildChainInput(history []chat.Message, userPrompt string) map[string]any {
	return map[string]any{
		"system":  SystemPersona,
		"history": buildHistoryMessages(history),
		"query":   userPrompt,
	}
}

// buildHistoryMessages replays the whole session; unknown roles are skipped.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
