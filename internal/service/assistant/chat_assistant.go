package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/sirupsen/logrus"

	"foliochat/internal/models"
	"foliochat/internal/service/ai"
	"foliochat/internal/worker"
)

// Reply is the outcome of one submitted message.
type Reply struct {
	UserTurn   models.Turn `json:"user_turn"`
	Reply      models.Turn `json:"reply"`
	Failed     bool        `json:"failed"`
	Diagnostic string      `json:"diagnostic,omitempty"`
}

// ProbeResult answers an explicit connection test.
type ProbeResult struct {
	OK      bool   `json:"ok"`
	Model   string `json:"model"`
	Message string `json:"message"`
}

// Submit sends a user message and waits for the assistant turn. Inference failures are
// reported through Reply.Failed and the diagnostic, never as an error.
func (s *Service) Submit(ctx context.Context, sessionID, text string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	session, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	userTurn, history, err := session.beginSubmit(text, s.policy)
	if err != nil {
		return nil, err
	}
	cfg, generation := session.store.Current()

	done := make(chan *Reply, 1)
	finish := func(out string, genErr error) {
		turn, diagnostic := session.finishSubmit(cfg, out, genErr)
		if genErr != nil {
			s.logger.WithFields(logrus.Fields{"session": sessionID, "model": cfg.Model}).
				WithError(genErr).Warn("generate failed")
		}
		done <- &Reply{UserTurn: userTurn, Reply: turn, Failed: genErr != nil, Diagnostic: diagnostic}
	}

	chatModel, err := s.chatModel(ctx, session, cfg, generation)
	if err != nil {
		finish("", err)
		return <-done, nil
	}

	job := worker.Job{
		Type: worker.Generate,
		Key:  sessionID,
		Run: func(jobCtx context.Context) {
			runCtx, cancel := context.WithTimeout(jobCtx, s.requestTimeout)
			defer cancel()
			stop := context.AfterFunc(ctx, cancel)
			defer stop()

			msg, genErr := chatModel.Generate(runCtx, ai.ToMessages(history, text))
			if genErr != nil {
				finish("", genErr)
				return
			}
			if msg == nil {
				finish("", errors.New("chat model returned no message"))
				return
			}
			finish(msg.Content, nil)
		},
	}
	if err := s.executor.Submit(job); err != nil {
		finish("", err)
		return <-done, nil
	}

	select {
	case reply := <-done:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) chatModel(ctx context.Context, session *Session, cfg models.EndpointConfig, generation uint64) (model.BaseChatModel, error) {
	if cached := session.cachedModel(generation); cached != nil {
		return cached, nil
	}
	if s.newModel == nil {
		return nil, errors.New("no chat model factory configured")
	}
	chatModel, err := s.newModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build chat model: %w", err)
	}
	session.cacheModel(generation, chatModel)
	return chatModel, nil
}

// UpdateConfig replaces the session configuration, announces it in the conversation and
// schedules one probe of the new value.
func (s *Service) UpdateConfig(ctx context.Context, sessionID string, update ConfigUpdate) (models.Snapshot, error) {
	session, err := s.Session(sessionID)
	if err != nil {
		return models.Snapshot{}, err
	}
	cfg, err := update.Apply(session.Config())
	if err != nil {
		return models.Snapshot{}, err
	}
	if cfg.Provider == models.ProviderOpenAI && cfg.APIKey == "" {
		cfg.APIKey = s.defaultConfig.APIKey
	}
	generation, err := session.replaceConfig(cfg)
	if err != nil {
		return models.Snapshot{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"session":  sessionID,
		"provider": cfg.Provider,
		"model":    cfg.Model,
	}).Info("configuration replaced")
	s.scheduleProbe(session, cfg, generation)
	return session.Snapshot(), nil
}

// Reprobe probes the current configuration now and records the status.
func (s *Service) Reprobe(ctx context.Context, sessionID string) (models.Snapshot, error) {
	session, err := s.Session(sessionID)
	if err != nil {
		return models.Snapshot{}, err
	}
	cfg, generation := session.store.Current()
	probeErr := s.probe(ctx, cfg)
	session.applyProbe(generation, probeErr)
	return session.Snapshot(), nil
}

// TestConnection probes a candidate configuration without storing it.
func (s *Service) TestConnection(ctx context.Context, sessionID string, update ConfigUpdate) (*ProbeResult, error) {
	session, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	cfg, err := update.Apply(session.Config())
	if err != nil {
		return nil, err
	}
	probeErr := s.probe(ctx, cfg)
	return &ProbeResult{
		OK:      probeErr == nil,
		Model:   cfg.Model,
		Message: session.messages.ProbeMessage(cfg, probeErr),
	}, nil
}

func (s *Service) probe(ctx context.Context, cfg models.EndpointConfig) error {
	if s.prober == nil {
		return errors.New("no prober configured")
	}
	return s.prober.Probe(ctx, cfg)
}

// scheduleProbe queues a background probe tagged with the configuration generation.
func (s *Service) scheduleProbe(session *Session, cfg models.EndpointConfig, generation uint64) {
	job := worker.Job{
		Type: worker.Probe,
		Key:  session.id,
		Run: func(ctx context.Context) {
			probeErr := s.probe(ctx, cfg)
			entry := s.logger.WithFields(logrus.Fields{"session": session.id, "endpoint": cfg.Endpoint, "model": cfg.Model})
			if !session.applyProbe(generation, probeErr) {
				entry.Debug("discarded stale probe result")
				return
			}
			if probeErr != nil {
				entry.WithError(probeErr).Warn("probe failed")
				return
			}
			entry.Debug("probe succeeded")
		},
	}
	if err := s.executor.Submit(job); err != nil {
		s.logger.WithField("session", session.id).WithError(err).Warn("probe not scheduled")
	}
}
