package assistant

import (
	"fmt"
	"strings"
	"sync"

	"foliochat/internal/models"
)

// ConfigUpdate is a requested replacement of a session's endpoint configuration. Empty
// fields keep the current value.
type ConfigUpdate struct {
	Provider    string   `json:"provider"`
	Endpoint    string   `json:"endpoint"`
	Model       string   `json:"model"`
	CustomModel string   `json:"custom_model"`
	Temperature *float64 `json:"temperature"`
}

// ResolveModel returns the effective model name for a picker selection.
func ResolveModel(selected, custom string) (string, error) {
	selected = strings.TrimSpace(selected)
	if selected != models.CustomModelSentinel {
		return selected, nil
	}
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return "", fmt.Errorf("%w: custom model name is required", ErrInvalidConfig)
	}
	return custom, nil
}

// Apply builds the configuration that results from applying u to base.
func (u ConfigUpdate) Apply(base models.EndpointConfig) (models.EndpointConfig, error) {
	cfg := base
	if p := strings.ToLower(strings.TrimSpace(u.Provider)); p != "" {
		cfg.Provider = p
	}
	if e := strings.TrimSpace(u.Endpoint); e != "" {
		cfg.Endpoint = e
	}
	if strings.TrimSpace(u.Model) != "" {
		model, err := ResolveModel(u.Model, u.CustomModel)
		if err != nil {
			return base, err
		}
		cfg.Model = model
	}
	if u.Temperature != nil {
		cfg.Temperature = *u.Temperature
	}
	if err := ValidateConfig(cfg); err != nil {
		return base, err
	}
	return cfg, nil
}

func ValidateConfig(cfg models.EndpointConfig) error {
	switch cfg.Provider {
	case models.ProviderOllama, models.ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if cfg.Model == "" || cfg.Model == models.CustomModelSentinel {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ConfigStore holds exactly one endpoint configuration. Every replacement bumps the
// generation so results computed for an older value can be recognised.
type ConfigStore struct {
	mu         sync.RWMutex
	cfg        models.EndpointConfig
	generation uint64
}

func NewConfigStore(cfg models.EndpointConfig) *ConfigStore {
	return &ConfigStore{cfg: cfg, generation: 1}
}

func (s *ConfigStore) Current() (models.EndpointConfig, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.generation
}

func (s *ConfigStore) Replace(cfg models.EndpointConfig) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.generation++
	return s.generation
}

func (s *ConfigStore) IsCurrent(generation uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation == generation
}
