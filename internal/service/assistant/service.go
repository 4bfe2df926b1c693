package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/sirupsen/logrus"

	"foliochat/internal/models"
	"foliochat/internal/service/ai"
	"foliochat/internal/worker"
)

const DefaultRequestTimeout = 120 * time.Second

// Prober checks whether an endpoint configuration can serve requests.
type Prober interface {
	Probe(ctx context.Context, cfg models.EndpointConfig) error
}

// ModelFactory builds the chat model used for a configuration.
type ModelFactory func(ctx context.Context, cfg models.EndpointConfig) (model.BaseChatModel, error)

// Executor runs probe and generate jobs in the background.
type Executor interface {
	Submit(job worker.Job) error
	Cancel(key string)
}

type Options struct {
	Prober   Prober
	NewModel ModelFactory
	Executor Executor
	Logger   logrus.FieldLogger

	ContextPolicy  ai.ContextPolicy
	RequestTimeout time.Duration
	SessionTTL     time.Duration
	MaxSessions    int

	DefaultConfig models.EndpointConfig
	DefaultLocale string
	Now           func() time.Time

	// OnSessionClosed runs after a session is deleted or reaped.
	OnSessionClosed func(sessionID string)
}

// Service owns the chat sessions and drives their message and configuration lifecycle.
type Service struct {
	prober         Prober
	newModel       ModelFactory
	executor       Executor
	logger         logrus.FieldLogger
	policy         ai.ContextPolicy
	requestTimeout time.Duration
	sessionTTL     time.Duration
	maxSessions    int
	defaultConfig  models.EndpointConfig
	defaultLocale  string
	now            func() time.Time
	onClosed       func(sessionID string)

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService builds a new assistant service.
func NewService(opts Options) *Service {
	s := &Service{
		prober:         opts.Prober,
		newModel:       opts.NewModel,
		executor:       opts.Executor,
		logger:         opts.Logger,
		policy:         opts.ContextPolicy,
		requestTimeout: opts.RequestTimeout,
		sessionTTL:     opts.SessionTTL,
		maxSessions:    opts.MaxSessions,
		defaultConfig:  opts.DefaultConfig,
		defaultLocale:  opts.DefaultLocale,
		now:            opts.Now,
		onClosed:       opts.OnSessionClosed,
		sessions:       make(map[string]*Session),
	}
	if s.executor == nil {
		s.executor = goExecutor{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = DefaultRequestTimeout
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.defaultConfig == (models.EndpointConfig{}) {
		s.defaultConfig = models.DefaultEndpointConfig()
	}
	if !IsSupportedLocale(s.defaultLocale) {
		s.defaultLocale = LocaleFrench
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) DefaultLocale() string { return s.defaultLocale }

func (s *Service) DefaultConfig() models.EndpointConfig { return s.defaultConfig }

// goExecutor runs every job on its own goroutine.
type goExecutor struct{}

func (goExecutor) Submit(job worker.Job) error {
	go job.Run(context.Background())
	return nil
}

func (goExecutor) Cancel(string) {}
