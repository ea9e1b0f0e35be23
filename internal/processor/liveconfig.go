package processor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/llmclient"
)

// LiveConfig exposes just the processor's live-tunable knobs, re-read at
// the start of every cycle so a config edit through the HTTP API takes
// effect on the next tick without a daemon restart.
type LiveConfig interface {
	Get() config.ProcessorConfig
}

// managerLiveConfig adapts a config.ConfigManager to LiveConfig.
type managerLiveConfig struct {
	mgr config.ConfigManager
}

// NewLiveConfig wraps a config manager as the processor's live accessor.
func NewLiveConfig(mgr config.ConfigManager) LiveConfig {
	return &managerLiveConfig{mgr: mgr}
}

func (l *managerLiveConfig) Get() config.ProcessorConfig {
	return l.mgr.Get().Processor
}

// summarizerCacheKey is the tuple that determines whether the current LLM
// client is still valid: providerless config changes (cycle interval,
// batch cap) never trigger a rebuild.
type summarizerCacheKey struct {
	provider string
	model    string
	baseURL  string
	timeout  time.Duration
	enabled  bool
}

func cacheKeyFor(cfg config.ProcessorConfig) summarizerCacheKey {
	return summarizerCacheKey{
		provider: cfg.LLMProvider,
		model:    cfg.LLMModel,
		baseURL:  cfg.LLMBaseURL,
		timeout:  cfg.LLMTimeout.Duration,
		enabled:  cfg.SummarizationEnabled,
	}
}

// llmClientManager holds the current LLM client and swaps it only when
// the summarizer cache key changes, avoiding a fresh *http.Client (and
// its connection pool) being built on every cycle.
type llmClientManager struct {
	mu       sync.Mutex
	key      summarizerCacheKey
	client   llmclient.Client
	hasKey   bool
	logger   *slog.Logger
}

func newLLMClientManager(logger *slog.Logger) *llmClientManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &llmClientManager{logger: logger}
}

// clientFor returns the LLM client for the given config, rebuilding it
// only when (provider, model, base_url, timeout, enabled) changed since
// the last call. Returns nil when summarization is disabled.
func (m *llmClientManager) clientFor(cfg config.ProcessorConfig) llmclient.Client {
	key := cacheKeyFor(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasKey && m.key == key {
		return m.client
	}
	m.key = key
	m.hasKey = true

	if !cfg.SummarizationEnabled {
		m.client = nil
		return nil
	}

	switch cfg.LLMProvider {
	case "", "openai-compat", "local-server":
		m.client = llmclient.NewOpenAICompat(nil, cfg.LLMBaseURL, cfg.LLMModel, "", cfg.LLMTimeout.Duration)
	default:
		m.logger.Warn("processor: unknown llm_provider, falling back to openai-compat", "provider", cfg.LLMProvider)
		m.client = llmclient.NewOpenAICompat(nil, cfg.LLMBaseURL, cfg.LLMModel, "", cfg.LLMTimeout.Duration)
	}
	m.logger.Info("processor: llm client (re)configured", "client", clientName(m.client))
	return m.client
}

func clientName(c llmclient.Client) string {
	if c == nil {
		return "none"
	}
	return c.Name()
}
