// Package daemon holds the process-wide application container and its
// lifecycle: startup wiring, background loops, version-stamp checking,
// periodic backups, and shutdown. The App struct is constructed once in
// main and passed by handle to every handler and background task; there is
// no package-global mutable state.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/cloudrelay"
	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/embedding"
	"github.com/oak-dev/cid/internal/embedding/cpufallback"
	"github.com/oak-dev/cid/internal/embedding/localserver"
	"github.com/oak-dev/cid/internal/embedding/openaicompat"
	"github.com/oak-dev/cid/internal/governance"
	"github.com/oak-dev/cid/internal/indexer"
	"github.com/oak-dev/cid/internal/processor"
	"github.com/oak-dev/cid/internal/tunnel"
	"github.com/oak-dev/cid/internal/vectorstore"
)

// Version is the running daemon version, overridable at build time with
// -ldflags "-X github.com/oak-dev/cid/internal/daemon.Version=...".
var Version = "1.0.10"

// App is the process-wide container for every component the daemon runs.
type App struct {
	ProjectRoot     string
	DataDir         string
	AuthToken       string
	SourceMachineID string

	Config     config.ConfigManager
	Store      *activitystore.Store
	Vector     *vectorstore.Store
	Chain      *embedding.Chain
	Indexer    *indexer.Indexer
	Watcher    *indexer.Watcher // nil when disabled or unavailable
	Processor  *processor.Processor
	Governance *governance.Engine
	Audit      *governance.AuditWriter
	Tunnel     *tunnel.Supervisor
	CloudRelay *cloudrelay.Client

	Index     *IndexStatus
	CORS      *CORSSet
	Dedupe    *DedupeLRU
	ActBuffer *activitystore.ActivityBuffer

	VersionInfo VersionInfo

	Logger *slog.Logger

	backupMu       sync.Mutex
	lastAutoBackup time.Time

	lockFile *os.File

	shutdownMu sync.Mutex
	shutdown   context.CancelFunc
}

// New wires every component in dependency order: paths, machine id, the
// two stores, the embedding chain, indexer/watcher, processor, governance.
// The embedding chain's primary being down is non-fatal; the store layers
// failing to open is fatal.
func New(mgr config.ConfigManager, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := mgr.Get()

	projectRoot := cfg.General.ProjectRoot
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}
	dataDir := cfg.General.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(projectRoot, ".oak", "ci")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create data dir: %w", err)
	}

	machineID, err := LoadOrCreateMachineID(filepath.Join(dataDir, "machine_id"), cfg.General.SourceMachine)
	if err != nil {
		return nil, err
	}

	store, err := activitystore.Open(filepath.Join(dataDir, "activities.db"), machineID)
	if err != nil {
		return nil, err
	}

	chromaDir := filepath.Join(dataDir, "chroma")
	if err := os.MkdirAll(chromaDir, 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: create chroma dir: %w", err)
	}
	vstore, err := vectorstore.Open(filepath.Join(chromaDir, "vectors.db"))
	if err != nil {
		store.Close()
		return nil, err
	}

	chain := buildChain(cfg.Embedding, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	available := chain.IsAvailable(ctx)
	cancel()
	if !available {
		logger.Warn("daemon: no embedding provider reachable at startup; indexing will retry per request")
	}

	idx := indexer.NewIndexer(chain, vstore, logger)

	engine := governance.NewEngine(cfg.Governance, logger)
	audit := governance.NewAuditWriter(store)

	authToken := cfg.API.AuthToken
	if env := os.Getenv("OAK_AUTH_TOKEN"); env != "" {
		authToken = env
	}

	app := &App{
		ProjectRoot:     projectRoot,
		DataDir:         dataDir,
		AuthToken:       authToken,
		SourceMachineID: machineID,
		Config:          mgr,
		Store:           store,
		Vector:          vstore,
		Chain:           chain,
		Indexer:         idx,
		Governance:      engine,
		Audit:           audit,
		Tunnel:          tunnel.New(cfg.Tunnel, logger),
		CloudRelay:      cloudrelay.New(cfg.CloudRelay, filepath.Join(dataDir, "cloud-relay"), logger),
		Index:           NewIndexStatus(),
		CORS:            NewCORSSet(cfg.API.AllowedOrigins),
		Dedupe:          NewDedupeLRU(512),
		ActBuffer:       &activitystore.ActivityBuffer{},
		Logger:          logger,
	}

	app.Processor = processor.New(store, vstore, chain, processor.NewLiveConfig(mgr), logger, machineID)

	if cfg.Indexer.WatcherEnabled {
		w, err := indexer.NewWatcher(idx, projectRoot, func() config.IndexerConfig { return mgr.Get().Indexer }, logger)
		if err != nil {
			logger.Warn("daemon: file watcher unavailable, incremental updates disabled", "error", err)
		} else {
			app.Watcher = w
		}
	}

	app.VersionInfo = ResolveVersionInfo(Version, filepath.Join(dataDir, "cli_version"))

	return app, nil
}

// buildChain maps the embedding configuration to the ordered provider
// list: the configured primary first, configured fallbacks after, and the
// CPU fallback always last so Embed has a floor.
func buildChain(cfg config.EmbeddingConfig, logger *slog.Logger) *embedding.Chain {
	var providers []embedding.Provider
	providers = append(providers, providerFor(cfg.Provider, cfg.Model, cfg.BaseURL, cfg.APIKey, cfg.Dimensions, cfg.MaxChunkChars))
	for _, fb := range cfg.AdditionalProviders {
		providers = append(providers, providerFor(fb.Provider, fb.Model, fb.BaseURL, fb.APIKey, fb.Dimensions, fb.MaxChunkChars))
	}
	if cfg.Provider != "cpu-fallback" {
		providers = append(providers, cpufallback.New(cfg.Dimensions, cfg.MaxChunkChars))
	}
	return embedding.NewChain(providers, logger)
}

func providerFor(kind, model, baseURL, apiKey string, dims, maxChars int) embedding.Provider {
	switch kind {
	case "openai":
		return openaicompat.New(model, baseURL, apiKey, dims, maxChars)
	case "cpu-fallback":
		return cpufallback.New(dims, maxChars)
	default:
		return localserver.New(model, baseURL, dims, maxChars)
	}
}

// AcquireLock takes the single-instance lock at <data-dir>/daemon.pid,
// failing when another daemon already owns the project.
func (a *App) AcquireLock() error {
	f, err := AcquirePIDLock(filepath.Join(a.DataDir, "daemon.pid"))
	if err != nil {
		return err
	}
	a.lockFile = f
	return nil
}

// SetShutdown registers the cancel function Shutdown and the restart route
// use to stop the process's root context.
func (a *App) SetShutdown(cancel context.CancelFunc) {
	a.shutdownMu.Lock()
	defer a.shutdownMu.Unlock()
	a.shutdown = cancel
}

// RequestShutdown triggers a graceful stop if a cancel function was
// registered.
func (a *App) RequestShutdown() {
	a.shutdownMu.Lock()
	cancel := a.shutdown
	a.shutdownMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears the App down in reverse wiring order: watcher, tunnel,
// relay, stores, lock.
func (a *App) Close() {
	if a.Watcher != nil {
		if err := a.Watcher.Close(); err != nil {
			a.Logger.Warn("daemon: watcher close failed", "error", err)
		}
	}
	if _, err := a.Tunnel.Stop(); err != nil {
		a.Logger.Warn("daemon: tunnel stop failed", "error", err)
	}
	a.CloudRelay.Stop()
	if err := a.Vector.Close(); err != nil {
		a.Logger.Warn("daemon: vector store close failed", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("daemon: activity store close failed", "error", err)
	}
	ReleasePIDLock(a.lockFile)
	a.lockFile = nil
}
