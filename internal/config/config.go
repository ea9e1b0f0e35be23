// Package config loads and validates the CID daemon TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level daemon configuration, loaded from <project>/.oak/ci/config.toml.
type Config struct {
	General    General          `toml:"general"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Indexer    IndexerConfig    `toml:"indexer"`
	Processor  ProcessorConfig  `toml:"processor"`
	Governance GovernanceConfig `toml:"governance"`
	API        API              `toml:"api"`
	Backup     BackupConfig     `toml:"backup"`
	Tunnel     TunnelConfig     `toml:"tunnel"`
	CloudRelay CloudRelayConfig `toml:"cloud_relay"`
}

// General holds project identity and paths.
type General struct {
	ProjectRoot   string `toml:"project_root"`
	AgentName     string `toml:"agent_name"`
	LogLevel      string `toml:"log_level"`
	DataDir       string `toml:"data_dir"` // defaults to <project_root>/.oak/ci
	LockFile      string `toml:"lock_file"`
	CLICommand    string `toml:"cli_command"` // OAK_CI_CLI_COMMAND override
	SourceMachine string `toml:"source_machine_id"`
}

// EmbeddingConfig configures the provider chain's primary provider. Fallbacks
// are described by AdditionalProviders, tried in order after the primary.
type EmbeddingConfig struct {
	Provider            string              `toml:"provider"` // "local-server", "openai", "cpu-fallback"
	Model               string              `toml:"model"`
	BaseURL             string              `toml:"base_url"`
	APIKey              string              `toml:"api_key"`
	Dimensions          int                 `toml:"dimensions"`
	MaxChunkChars       int                 `toml:"max_chunk_chars"`
	AdditionalProviders []EmbeddingFallback `toml:"fallback"`
}

// EmbeddingFallback describes one fallback entry in the provider chain.
type EmbeddingFallback struct {
	Provider      string `toml:"provider"`
	Model         string `toml:"model"`
	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"`
	Dimensions    int    `toml:"dimensions"`
	MaxChunkChars int    `toml:"max_chunk_chars"`
}

// IndexerConfig tunes the code indexer and file watcher.
type IndexerConfig struct {
	Extensions         []string `toml:"extensions"`
	IgnoreGlobs        []string `toml:"ignore_globs"`
	LineChunkTarget    int      `toml:"line_chunk_target"`
	LineChunkOverlap   int      `toml:"line_chunk_overlap"`
	BatchSize          int      `toml:"batch_size"`
	DebounceInterval   Duration `toml:"debounce_interval"`
	MinReindexInterval Duration `toml:"min_reindex_interval"`
	WatcherEnabled     bool     `toml:"watcher_enabled"`
	RebuildTimeout     Duration `toml:"rebuild_timeout"`
}

// ProcessorConfig tunes the background activity processor. This is re-read
// every cycle through a live accessor (see Manager), never captured once.
type ProcessorConfig struct {
	CycleInterval        Duration `toml:"cycle_interval"`
	BatchCap             int      `toml:"batch_cap"`
	MinSessionActivities int      `toml:"min_session_activities"`
	StaleSessionTimeout  Duration `toml:"stale_session_timeout"`
	ContextTokenBudget   int      `toml:"context_token_budget"`
	SummarizationEnabled bool     `toml:"summarization_enabled"`
	LLMProvider          string   `toml:"llm_provider"`
	LLMModel             string   `toml:"llm_model"`
	LLMBaseURL           string   `toml:"llm_base_url"`
	LLMTimeout           Duration `toml:"llm_timeout"`
	AutoResolveLimit     int      `toml:"auto_resolve_limit"`
}

// GovernanceConfig holds the enforcement mode and rule set.
type GovernanceConfig struct {
	EnforcementMode string           `toml:"enforcement_mode"` // "observe" | "enforce"
	RetentionDays   int              `toml:"retention_days"`
	Rules           []GovernanceRule `toml:"rule"`
}

// GovernanceRule is one compiled-at-startup policy rule.
type GovernanceRule struct {
	ID          string `toml:"id"`
	Description string `toml:"description"`
	Enabled     bool   `toml:"enabled"`
	Tool        string `toml:"tool"`         // glob, "*" matches any
	Pattern     string `toml:"pattern"`      // regex over serialized tool_input
	PathPattern string `toml:"path_pattern"` // glob over extracted file_path
	Action      string `toml:"action"`       // allow | deny | warn | observe
	Message     string `toml:"message"`
}

// API holds HTTP server bind address, auth, and size-limit settings.
type API struct {
	Bind           string   `toml:"bind"`
	AuthToken      string   `toml:"auth_token"` // OAK_AUTH_TOKEN overrides at startup
	MaxBodyBytes   int64    `toml:"max_body_bytes"`
	StaticPrefixes []string `toml:"static_prefixes"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// BackupConfig tunes the periodic backup loop.
type BackupConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
	Dir      string   `toml:"dir"` // defaults to <project_root>/.oak/ci-history
}

// TunnelConfig configures the optional ngrok-style tunnel subprocess.
type TunnelConfig struct {
	Provider   string `toml:"provider"` // "ngrok"
	BinaryPath string `toml:"binary_path"`
	AuthToken  string `toml:"auth_token"`
}

// CloudRelayConfig configures the optional cloud relay worker.
type CloudRelayConfig struct {
	WorkerDir string `toml:"worker_dir"`
	RelayURL  string `toml:"relay_url"`
	AuthToken string `toml:"auth_token"`
}

// Load reads and validates a TOML config file, applying defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		General: General{
			LogLevel: "info",
		},
		Embedding: EmbeddingConfig{
			Provider:      "local-server",
			Model:         "nomic-embed-text",
			BaseURL:       "http://localhost:11434",
			Dimensions:    768,
			MaxChunkChars: 8000,
		},
		Indexer: IndexerConfig{
			Extensions:         []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".md", ".json", ".yaml", ".yml"},
			IgnoreGlobs:        []string{"**/.git/**", "**/node_modules/**", "**/.oak/**", "**/vendor/**", "**/dist/**", "**/build/**"},
			LineChunkTarget:    80,
			LineChunkOverlap:   10,
			BatchSize:          64,
			DebounceInterval:   Duration{1 * time.Second},
			MinReindexInterval: Duration{30 * time.Second},
			WatcherEnabled:     true,
			RebuildTimeout:     Duration{5 * time.Minute},
		},
		Processor: ProcessorConfig{
			CycleInterval:        Duration{15 * time.Second},
			BatchCap:             10,
			MinSessionActivities: 3,
			StaleSessionTimeout:  Duration{30 * time.Minute},
			ContextTokenBudget:   8000,
			SummarizationEnabled: true,
			LLMTimeout:           Duration{60 * time.Second},
			AutoResolveLimit:     20,
		},
		Governance: GovernanceConfig{
			EnforcementMode: "observe",
			RetentionDays:   90,
		},
		API: API{
			Bind:           "127.0.0.1:8765",
			MaxBodyBytes:   5 * 1024 * 1024,
			StaticPrefixes: []string{"/static/", "/dashboard"},
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Backup: BackupConfig{
			Enabled:  true,
			Interval: Duration{6 * time.Hour},
		},
		Tunnel: TunnelConfig{
			Provider: "ngrok",
		},
	}
}

func applyDefaults(cfg *Config) {
	root := strings.TrimSpace(cfg.General.ProjectRoot)
	if root == "" {
		root, _ = os.Getwd()
		cfg.General.ProjectRoot = root
	}
	if cfg.General.DataDir == "" {
		cfg.General.DataDir = filepath.Join(root, ".oak", "ci")
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(root, ".oak", "ci-history")
	}
	if cfg.CloudRelay.WorkerDir == "" {
		cfg.CloudRelay.WorkerDir = filepath.Join(cfg.General.DataDir, "cloud-relay")
	}
	if token := strings.TrimSpace(os.Getenv("OAK_AUTH_TOKEN")); token != "" {
		cfg.API.AuthToken = token
	}
	if cmd := strings.TrimSpace(os.Getenv("OAK_CI_CLI_COMMAND")); cmd != "" {
		cfg.General.CLICommand = cmd
	}
	if cfg.General.CLICommand == "" {
		cfg.General.CLICommand = "oak"
	}
}

// Validate checks the configuration for internal consistency.
func Validate(cfg *Config) error {
	if cfg.General.ProjectRoot == "" {
		return fmt.Errorf("general.project_root is required")
	}
	switch cfg.Governance.EnforcementMode {
	case "observe", "enforce":
	default:
		return fmt.Errorf("governance.enforcement_mode must be observe or enforce, got %q", cfg.Governance.EnforcementMode)
	}
	for _, rule := range cfg.Governance.Rules {
		switch rule.Action {
		case "allow", "deny", "warn", "observe", "":
		default:
			return fmt.Errorf("governance rule %q: invalid action %q", rule.ID, rule.Action)
		}
	}
	if cfg.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("api.max_body_bytes must be positive")
	}
	return nil
}

// Clone returns a deep-enough copy for safe concurrent hand-off between
// readers: slices/maps are copied, scalar-valued struct fields are copied
// by value assignment.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Embedding.AdditionalProviders = append([]EmbeddingFallback(nil), c.Embedding.AdditionalProviders...)
	clone.Indexer.Extensions = append([]string(nil), c.Indexer.Extensions...)
	clone.Indexer.IgnoreGlobs = append([]string(nil), c.Indexer.IgnoreGlobs...)
	clone.Governance.Rules = append([]GovernanceRule(nil), c.Governance.Rules...)
	clone.API.StaticPrefixes = append([]string(nil), c.API.StaticPrefixes...)
	clone.API.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return &clone
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
