package models

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DefaultEndpoint    = "http://localhost:11434/api/generate"
	DefaultModel       = "gemma3:1b"
	DefaultTemperature = 0.7

	// CustomModelSentinel selects the free-form custom model name instead of a listed model.
	CustomModelSentinel = "custom"
)

// SampleModels is the model picker list offered to the chat widget, default first.
var SampleModels = []string{
	"gemma3:1b",
	"gemma3",
	"gemma3:2b",
	"gemma3:7b",
	"llama3",
	"llama3:8b",
	"llama3:70b",
	"mistral",
	"mixtral",
	"phi3",
	"codellama",
	"llama2",
	CustomModelSentinel,
}

// EndpointConfig describes where and how inference requests are sent.
type EndpointConfig struct {
	Provider    string  `json:"provider"`
	Endpoint    string  `json:"endpoint"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	APIKey      string  `json:"-"`
}

// DefaultEndpointConfig returns the local Ollama defaults.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		Provider:    ProviderOllama,
		Endpoint:    DefaultEndpoint,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
	}
}

// ProviderName is the human readable name used in chat notices.
func (c EndpointConfig) ProviderName() string {
	switch c.Provider {
	case ProviderOpenAI:
		return "OpenAI"
	default:
		return "Ollama"
	}
}

// ConnectionStatus is the derived reachability of the configured endpoint.
type ConnectionStatus string

const (
	StatusUnknown   ConnectionStatus = "unknown"
	StatusConnected ConnectionStatus = "connected"
	StatusError     ConnectionStatus = "error"
)
