// Package config provides configuration loading for fuzagent.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete fuzagent configuration.
type Config struct {
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Memory        MemoryConfig        `koanf:"memory"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	GitHub        GitHubConfig        `koanf:"github"`
	CI            CIConfig            `koanf:"ci"`
	Events        EventsConfig        `koanf:"events"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// PipelineConfig controls the orchestrator.
type PipelineConfig struct {
	MaxIterations   int      `koanf:"max_iterations"`
	EnableAutoFix   bool     `koanf:"enable_auto_fix"`
	StageTimeout    Duration `koanf:"stage_timeout"`
	Workspace       string   `koanf:"workspace"`
	TestCommand     string   `koanf:"test_command"`
	AllowedCommands []string `koanf:"allowed_commands"`
	// EnableLRM adds the Reason stage after planning and before each retry.
	EnableLRM bool `koanf:"enable_lrm"`
}

// MemoryConfig controls the memory store.
type MemoryConfig struct {
	Namespace          string   `koanf:"namespace"`
	MaxContentLength   int      `koanf:"max_content_length"`
	MaxAttributeLength int      `koanf:"max_attribute_length"`
	ContextResults     int      `koanf:"context_results"`
	VisibilityInterval Duration `koanf:"visibility_interval"`
	VisibilityTimeout  Duration `koanf:"visibility_timeout"`
	RetryAttempts      int      `koanf:"retry_attempts"`
	RetryBackoff       Duration `koanf:"retry_backoff"`
	// Reranker selects the precision pass applied to search results.
	Reranker RerankerConfig `koanf:"reranker"`
}

// RerankerConfig configures a cross-encoder served by Text Embeddings
// Inference. With no BaseURL the term-overlap reranker is used.
type RerankerConfig struct {
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// VectorStoreConfig selects and configures the backing index.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // chromem | qdrant
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go database.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	UseTLS       bool     `koanf:"use_tls"`
	APIKey       Secret   `koanf:"api_key"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // fastembed | tei
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
}

// LLMConfig configures the reasoning capability.
type LLMConfig struct {
	APIKey            Secret  `koanf:"api_key"`
	BaseURL           string  `koanf:"base_url"`
	Model             string  `koanf:"model"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
	// ReasoningModel serves the Reason stage; Model when empty.
	ReasoningModel string `koanf:"reasoning_model"`
}

// GitHubConfig configures the publish target.
type GitHubConfig struct {
	Token       Secret `koanf:"token"`
	Repo        string `koanf:"repo"` // owner/name
	BaseBranch  string `koanf:"base_branch"`
	Remote      string `koanf:"remote"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
	MaxRetries  int    `koanf:"max_retries"`
	// APIURL overrides the GitHub API endpoint (GitHub Enterprise).
	APIURL string `koanf:"api_url"`
}

// CIConfig configures the CI feedback gateway.
type CIConfig struct {
	Mode         string   `koanf:"mode"` // poll | webhook
	PollInterval Duration `koanf:"poll_interval"`
	Timeout      Duration `koanf:"timeout"`
	// EmptyPolls is how many consecutive polls with no check runs count
	// as a pass.
	EmptyPolls    int      `koanf:"empty_polls"`
	WebhookAddr   string   `koanf:"webhook_addr"`
	WebhookSecret Secret   `koanf:"webhook_secret"`
	WebhookSettle Duration `koanf:"webhook_settle"`
	RateLimit     float64  `koanf:"rate_limit"`
}

// EventsConfig configures run lifecycle event publishing.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// SecretsConfig configures secret scrubbing of persisted content.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// ObservabilityConfig configures logging and OpenTelemetry.
type ObservabilityConfig struct {
	LogLevel        string  `koanf:"log_level"`
	LogFormat       string  `koanf:"log_format"`
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"`
	OTLPInsecure    bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// Default returns a configuration populated with defaults. Boolean options
// that default to true are set here because their zero value is false.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxIterations: 10,
			EnableAutoFix: true,
			StageTimeout:  Duration(5 * time.Minute),
			Workspace:     ".",
			AllowedCommands: []string{
				"go", "make", "python", "pytest", "npm", "yarn", "pip",
				"docker", "black", "flake8", "mypy",
			},
		},
		Memory: MemoryConfig{
			Namespace:          "agentic-memory",
			MaxContentLength:   1000,
			MaxAttributeLength: 500,
			ContextResults:     5,
			VisibilityInterval: Duration(500 * time.Millisecond),
			VisibilityTimeout:  Duration(10 * time.Second),
			RetryAttempts:      3,
			RetryBackoff:       Duration(500 * time.Millisecond),
			Reranker: RerankerConfig{
				Model:   "BAAI/bge-reranker-v2-m3",
				Timeout: Duration(10 * time.Second),
			},
		},
		VectorStore: VectorStoreConfig{
			Provider: "chromem",
			Chromem: ChromemConfig{
				Path:     "~/.local/share/fuzagent/vectorstore",
				Compress: true,
			},
			Qdrant: QdrantConfig{
				Host:         "localhost",
				Port:         6334,
				MaxRetries:   3,
				RetryBackoff: Duration(time.Second),
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "fastembed",
			Model:     "BAAI/bge-small-en-v1.5",
			BaseURL:   "http://localhost:8080",
			Dimension: 384,
		},
		LLM: LLMConfig{
			Model:             "gpt-4",
			RequestsPerSecond: 1,
			Burst:             2,
		},
		GitHub: GitHubConfig{
			BaseBranch:  "main",
			Remote:      "origin",
			AuthorName:  "fuzagent",
			AuthorEmail: "fuzagent@users.noreply.github.com",
			MaxRetries:  3,
		},
		CI: CIConfig{
			Mode:          "poll",
			PollInterval:  Duration(10 * time.Second),
			Timeout:       Duration(300 * time.Second),
			EmptyPolls:    3,
			WebhookAddr:   ":3000",
			WebhookSettle: Duration(10 * time.Second),
			RateLimit:     10,
		},
		Events: EventsConfig{
			Subject: "fuzagent.runs",
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			LogFormat:    "console",
			ServiceName:  "fuzagent",
			OTLPEndpoint: "localhost:4317",
			OTLPProtocol: "grpc",
			OTLPInsecure: true,
			SampleRate:   1.0,
		},
	}
}

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)

// Validate checks the configuration for errors. Credentials are not
// required here; components that need them fail at construction.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_iterations must be >= 1, got %d", c.Pipeline.MaxIterations))
	}
	if c.Pipeline.StageTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("pipeline.stage_timeout must be > 0"))
	}
	if strings.TrimSpace(c.Memory.Namespace) == "" {
		errs = append(errs, errors.New("memory.namespace is required"))
	}
	if c.Memory.MaxContentLength <= 0 || c.Memory.MaxAttributeLength <= 0 {
		errs = append(errs, errors.New("memory length limits must be > 0"))
	}
	if c.Memory.VisibilityInterval.Duration() <= 0 || c.Memory.VisibilityTimeout < c.Memory.VisibilityInterval {
		errs = append(errs, errors.New("memory.visibility_timeout must be >= visibility_interval > 0"))
	}
	if c.Memory.Reranker.BaseURL != "" && c.Memory.Reranker.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("memory.reranker.timeout must be > 0"))
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider))
	}
	if c.VectorStore.Provider == "qdrant" && (c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535) {
		errs = append(errs, fmt.Errorf("vectorstore.qdrant.port out of range: %d", c.VectorStore.Qdrant.Port))
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be fastembed or tei, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, errors.New("embeddings.dimension must be > 0"))
	}
	if c.GitHub.Repo != "" && !repoPattern.MatchString(c.GitHub.Repo) {
		errs = append(errs, fmt.Errorf("github.repo must be owner/name, got %q", c.GitHub.Repo))
	}
	switch c.CI.Mode {
	case "poll", "webhook":
	default:
		errs = append(errs, fmt.Errorf("ci.mode must be poll or webhook, got %q", c.CI.Mode))
	}
	if c.CI.EmptyPolls < 1 {
		errs = append(errs, fmt.Errorf("ci.empty_polls must be >= 1, got %d", c.CI.EmptyPolls))
	}
	if c.CI.PollInterval.Duration() <= 0 || c.CI.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("ci.poll_interval and ci.timeout must be > 0"))
	}
	if c.CI.WebhookSettle.Duration() < 0 {
		errs = append(errs, errors.New("ci.webhook_settle must be >= 0"))
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.sample_rate must be in [0,1], got %v", c.Observability.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
