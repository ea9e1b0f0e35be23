// Package cloudrelay scaffolds and deploys the Cloudflare Worker relay and
// maintains the daemon's persistent outbound WebSocket to it, so remote
// surfaces can reach a daemon that sits behind NAT.
package cloudrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oak-dev/cid/internal/config"
)

// StepError carries the phase a multi-step flow failed in, plus an
// optional user-facing suggestion, matching the structured error contract
// of the cloud routes.
type StepError struct {
	Phase      string
	Detail     string
	Suggestion string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("cloudrelay: %s: %s", e.Phase, e.Detail)
}

// Settings is the persisted relay configuration, stored as JSON next to
// the worker scaffold.
type Settings struct {
	RelayURL    string `json:"relay_url"`
	AuthToken   string `json:"auth_token"`
	WorkerName  string `json:"worker_name"`
	DeployedAt  string `json:"deployed_at,omitempty"`
	LastConnect string `json:"last_connect,omitempty"`
}

// Status is the relay lifecycle snapshot served by /api/cloud/status.
type Status struct {
	Scaffolded bool   `json:"scaffolded"`
	Deployed   bool   `json:"deployed"`
	Connected  bool   `json:"connected"`
	RelayURL   string `json:"relay_url,omitempty"`
}

// Client owns the worker scaffold directory and the relay connection.
type Client struct {
	cfg       config.CloudRelayConfig
	workerDir string
	logger    *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cancelRd context.CancelFunc
	deployed bool
}

// New builds a Client rooted at workerDir (<data-dir>/cloud-relay by
// convention). Nothing touches the filesystem until Scaffold or Start.
func New(cfg config.CloudRelayConfig, workerDir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerDir != "" {
		workerDir = cfg.WorkerDir
	}
	return &Client{cfg: cfg, workerDir: workerDir, logger: logger}
}

// workerScript is the minimal relay worker: it accepts WebSocket upgrades
// on /connect from the daemon and answers every other path with a plain
// 200 "relay online" response. It does not forward HTTP requests over the
// socket.
const workerScript = `export default {
  async fetch(request, env) {
    const url = new URL(request.url);
    if (url.pathname === "/connect") {
      const upgrade = request.headers.get("Upgrade");
      if (upgrade !== "websocket") {
        return new Response("expected websocket", { status: 426 });
      }
      const pair = new WebSocketPair();
      const [client, server] = Object.values(pair);
      server.accept();
      env.DAEMON = server;
      return new Response(null, { status: 101, webSocket: client });
    }
    return new Response("relay online", { status: 200 });
  },
};
`

const workerConfig = `name = "%s"
main = "src/index.js"
compatibility_date = "2025-01-01"
`

const workerPackageJSON = `{
  "name": "%s",
  "private": true,
  "scripts": {
    "deploy": "wrangler deploy"
  },
  "devDependencies": {
    "wrangler": "^3"
  }
}
`

// Scaffold writes the worker template directory if it does not exist yet.
// Re-running on an existing scaffold is a no-op.
func (c *Client) Scaffold() error {
	name := c.workerName()
	if _, err := os.Stat(filepath.Join(c.workerDir, "wrangler.toml")); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(c.workerDir, "src"), 0o755); err != nil {
		return &StepError{Phase: "scaffold", Detail: err.Error()}
	}
	files := map[string]string{
		"wrangler.toml": fmt.Sprintf(workerConfig, name),
		"package.json":  fmt.Sprintf(workerPackageJSON, name),
		"src/index.js":  workerScript,
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(c.workerDir, rel), []byte(content), 0o644); err != nil {
			return &StepError{Phase: "scaffold", Detail: fmt.Sprintf("write %s: %v", rel, err)}
		}
	}
	return nil
}

func (c *Client) workerName() string {
	if c.cfg.WorkerDir != "" {
		if base := filepath.Base(c.cfg.WorkerDir); base != "." && base != "/" {
			return base
		}
	}
	return "cid-relay"
}

// PreflightResult reports which external prerequisites are satisfied.
type PreflightResult struct {
	NodeAvailable     bool   `json:"node_available"`
	WranglerAvailable bool   `json:"wrangler_available"`
	WranglerAuthed    bool   `json:"wrangler_authed"`
	Scaffolded        bool   `json:"scaffolded"`
	Detail            string `json:"detail,omitempty"`
}

// Preflight checks npm/wrangler availability and auth without mutating
// anything, so the UI can show what Start would need.
func (c *Client) Preflight(ctx context.Context) PreflightResult {
	var res PreflightResult
	if _, err := exec.LookPath("npm"); err == nil {
		res.NodeAvailable = true
	}
	if _, err := exec.LookPath("wrangler"); err == nil {
		res.WranglerAvailable = true
		out, err := runStep(ctx, c.workerDir, "wrangler", "whoami")
		if err == nil && !strings.Contains(out, "not authenticated") {
			res.WranglerAuthed = true
		}
	}
	if _, err := os.Stat(filepath.Join(c.workerDir, "wrangler.toml")); err == nil {
		res.Scaffolded = true
	}
	return res
}

// Start walks the full deploy flow: scaffold, npm install, wrangler auth
// check, deploy, persist settings, connect. Each step's failure is
// returned as a *StepError naming the phase so the route can shape the
// structured error response.
func (c *Client) Start(ctx context.Context) (Settings, error) {
	if err := c.Scaffold(); err != nil {
		return Settings{}, err
	}

	if _, err := exec.LookPath("npm"); err != nil {
		return Settings{}, &StepError{Phase: "install", Detail: "npm not found on PATH", Suggestion: "install Node.js to deploy the cloud relay"}
	}
	if out, err := runStep(ctx, c.workerDir, "npm", "install"); err != nil {
		return Settings{}, &StepError{Phase: "install", Detail: firstLine(out, err)}
	}

	if out, err := runStep(ctx, c.workerDir, "wrangler", "whoami"); err != nil || strings.Contains(out, "not authenticated") {
		return Settings{}, &StepError{Phase: "auth", Detail: firstLine(out, err), Suggestion: "run `wrangler login` and retry"}
	}

	deployOut, err := runStep(ctx, c.workerDir, "wrangler", "deploy")
	if err != nil {
		return Settings{}, &StepError{Phase: "deploy", Detail: firstLine(deployOut, err)}
	}

	settings := Settings{
		RelayURL:   extractWorkerURL(deployOut),
		AuthToken:  c.cfg.AuthToken,
		WorkerName: c.workerName(),
		DeployedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if settings.RelayURL == "" {
		settings.RelayURL = c.cfg.RelayURL
	}
	if settings.RelayURL == "" {
		return Settings{}, &StepError{Phase: "deploy", Detail: "deploy succeeded but no worker URL found in output"}
	}
	if err := c.SaveSettings(settings); err != nil {
		return Settings{}, &StepError{Phase: "persist", Detail: err.Error()}
	}

	if err := c.Connect(ctx, settings.RelayURL); err != nil {
		return Settings{}, &StepError{Phase: "connect", Detail: err.Error()}
	}

	c.mu.Lock()
	c.deployed = true
	c.mu.Unlock()
	return settings, nil
}

// Connect opens the persistent outbound WebSocket to the relay and starts
// a read pump that survives until Disconnect or a read error.
func (c *Client) Connect(ctx context.Context, relayURL string) error {
	wsURL := strings.Replace(relayURL, "https://", "wss://", 1)
	if !strings.HasSuffix(wsURL, "/connect") {
		wsURL = strings.TrimSuffix(wsURL, "/") + "/connect"
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.cancelRd = cancel
	c.mu.Unlock()

	go c.readPump(readCtx, conn)
	c.logger.Info("cloudrelay: connected", "url", wsURL)
	return nil
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		_, _, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if ctx.Err() == nil {
				c.logger.Warn("cloudrelay: connection lost", "error", err)
			}
			return
		}
	}
}

// Disconnect closes the relay socket if one is open.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancelRd
	c.conn = nil
	c.cancelRd = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "daemon disconnect"), time.Now().Add(time.Second))
		conn.Close()
	}
}

// Stop disconnects and forgets the deployed flag; the worker itself stays
// deployed (tearing down cloud infrastructure is out of scope).
func (c *Client) Stop() {
	c.Disconnect()
	c.mu.Lock()
	c.deployed = false
	c.mu.Unlock()
}

// Status reports the relay lifecycle state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st Status
	if _, err := os.Stat(filepath.Join(c.workerDir, "wrangler.toml")); err == nil {
		st.Scaffolded = true
	}
	st.Deployed = c.deployed
	st.Connected = c.conn != nil
	if s, err := c.LoadSettings(); err == nil {
		st.RelayURL = s.RelayURL
		if s.DeployedAt != "" {
			st.Deployed = true
		}
	}
	return st
}

func (c *Client) settingsPath() string {
	return filepath.Join(c.workerDir, "relay-settings.json")
}

// LoadSettings reads the persisted relay settings.
func (c *Client) LoadSettings() (Settings, error) {
	var s Settings
	data, err := os.ReadFile(c.settingsPath())
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("cloudrelay: parse settings: %w", err)
	}
	return s, nil
}

// SaveSettings persists relay settings next to the scaffold.
func (c *Client) SaveSettings(s Settings) error {
	if err := os.MkdirAll(c.workerDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.settingsPath(), data, 0o600)
}

// runStep executes one external command in dir with its own process group
// and returns combined output.
func runStep(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func firstLine(out string, err error) string {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line)
		}
	}
	if err != nil {
		return err.Error()
	}
	return "unknown failure"
}

// extractWorkerURL finds the `https://<name>.<account>.workers.dev` URL
// wrangler prints on a successful deploy, line by line.
func extractWorkerURL(deployOut string) string {
	for _, line := range strings.Split(deployOut, "\n") {
		idx := strings.Index(line, "https://")
		if idx < 0 {
			continue
		}
		url := strings.Fields(line[idx:])[0]
		if strings.Contains(url, ".workers.dev") {
			return strings.TrimRight(url, ".,")
		}
	}
	return ""
}
