package ai

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	"foliochat/internal/models"
)

const defaultProbeTimeout = 10 * time.Second

// Prober checks that an endpoint configuration can serve requests. It never retries.
type Prober struct {
	client  *Client
	timeout time.Duration
}

func NewProber(client *Client, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Prober{client: client, timeout: timeout}
}

// Probe returns nil when the endpoint answered the synthetic request successfully.
func (p *Prober) Probe(ctx context.Context, cfg models.EndpointConfig) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if cfg.Provider != models.ProviderOpenAI {
		return p.client.Probe(ctx, cfg)
	}
	chatModel, err := NewChatModel(ctx, cfg, p.client)
	if err != nil {
		return err
	}
	_, err = chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(ProbePrompt)})
	return err
}
