package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"foliochat/internal/models"
)

// GenerateModel exposes a raw generate endpoint as an eino chat model: the message list is
// flattened with FormatPrompt and sent as a single non-streaming request.
type GenerateModel struct {
	client *Client
	cfg    models.EndpointConfig
}

var _ model.BaseChatModel = (*GenerateModel)(nil)

func NewGenerateModel(client *Client, cfg models.EndpointConfig) *GenerateModel {
	return &GenerateModel{client: client, cfg: cfg}
}

// Generate expects the last message to be the new user input.
func (m *GenerateModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	history, text, err := splitMessages(input)
	if err != nil {
		return nil, err
	}
	cfg := m.cfg
	options := model.GetCommonOptions(&model.Options{}, opts...)
	if options.Model != nil && *options.Model != "" {
		cfg.Model = *options.Model
	}
	if options.Temperature != nil {
		cfg.Temperature = float64(*options.Temperature)
	}
	out, err := m.client.Generate(ctx, FormatPrompt(history, text), cfg)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(out, nil), nil
}

// Stream delivers the single-shot result as a one-element stream.
func (m *GenerateModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// NewChatModel builds the chat model for an endpoint configuration.
func NewChatModel(ctx context.Context, cfg models.EndpointConfig, client *Client) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case "", models.ProviderOllama:
		return NewGenerateModel(client, cfg), nil
	case models.ProviderOpenAI:
		temp := float32(cfg.Temperature)
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.Endpoint,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Temperature: &temp,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai chat model: %w", err)
		}
		return chatModel, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}

// ToMessages converts conversation turns plus the new user text into eino messages.
func ToMessages(history []models.Turn, userText string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	for _, turn := range history {
		role := schema.Assistant
		if turn.Role == models.RoleUser {
			role = schema.User
		}
		messages = append(messages, &schema.Message{Role: role, Content: turn.Content})
	}
	return append(messages, schema.UserMessage(userText))
}

func splitMessages(input []*schema.Message) ([]models.Turn, string, error) {
	if len(input) == 0 {
		return nil, "", errors.New("no messages to send")
	}
	last := input[len(input)-1]
	if last == nil || last.Role != schema.User || strings.TrimSpace(last.Content) == "" {
		return nil, "", errors.New("last message must be non-empty user input")
	}
	history := make([]models.Turn, 0, len(input)-1)
	for _, msg := range input[:len(input)-1] {
		if msg == nil {
			continue
		}
		role := models.RoleAssistant
		if msg.Role == schema.User {
			role = models.RoleUser
		}
		history = append(history, models.Turn{Role: role, Content: msg.Content})
	}
	return history, last.Content, nil
}
