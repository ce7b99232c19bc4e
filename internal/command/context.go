package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/db"
	"github.com/adamavenir/murmur/internal/engine"
	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/media"
	"github.com/adamavenir/murmur/internal/metrics"
	"github.com/adamavenir/murmur/internal/push/redisfeed"
	"github.com/adamavenir/murmur/internal/push/wsfeed"
	"github.com/adamavenir/murmur/internal/seal"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	Workspace core.Workspace
	Config    core.Config
	Local     *db.Local
	JSONMode  bool

	redis *redisfeed.Feed
}

// GetContext discovers the workspace, loads its config and opens the local
// service for the acting user.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	jsonMode, _ := cmd.Flags().GetBool("json")
	as, _ := cmd.Flags().GetString("as")

	ws, err := core.DiscoverWorkspace("")
	if err != nil {
		return nil, err
	}
	cfg, err := core.LoadConfig(ws)
	if err != nil {
		return nil, err
	}
	if as != "" {
		cfg.UserID = as
		cfg.DisplayName = ""
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("no user configured. Run 'murmur init --user <id>' or pass --as")
	}
	logger.Init(cfg.LogLevel, cfg.LogSink)

	ctx := &CommandContext{Workspace: ws, Config: cfg, JSONMode: jsonMode}
	var mirror db.Mirror
	if cfg.Transport == core.TransportRedis {
		feed, err := redisfeed.Dial(cmd.Context(), cfg.PushURL, redisfeed.Options{})
		if err != nil {
			return nil, err
		}
		ctx.redis = feed
		mirror = feed
	}
	local, err := db.Open(ws, db.Options{UserID: cfg.UserID, Mirror: mirror})
	if err != nil {
		ctx.Close()
		return nil, err
	}
	ctx.Local = local
	return ctx, nil
}

// Close releases everything GetContext opened.
func (c *CommandContext) Close() {
	if c.Local != nil {
		if err := c.Local.Close(); err != nil {
			logger.Debug("close database", "err", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Debug("close redis", "err", err)
		}
	}
}

// UserID returns the acting user.
func (c *CommandContext) UserID() string { return c.Config.UserID }

// Channel returns the push channel selected by the config.
func (c *CommandContext) Channel() service.Channel {
	switch c.Config.Transport {
	case core.TransportWS:
		return &wsfeed.Feed{URL: c.Config.PushURL}
	case core.TransportRedis:
		return c.redis
	}
	return c.Local
}

// Keyring loads the acting user's identity when a key file exists. It
// returns nil, nil when the user has no key.
func (c *CommandContext) Keyring() (*seal.Keyring, error) {
	dir := c.Workspace.KeysDir()
	if !seal.HasIdentity(dir, c.UserID()) {
		return nil, nil
	}
	passphrase, err := readPassphrase("Passphrase for " + c.UserID())
	if err != nil {
		return nil, err
	}
	id, err := seal.LoadIdentity(dir, c.UserID(), passphrase)
	if err != nil {
		return nil, err
	}
	lookup := func(conversationID string) (types.Conversation, error) {
		return c.Local.Conversation(context.Background(), conversationID)
	}
	return seal.NewKeyring(id, dir, lookup), nil
}

// NewClient starts an engine session over the workspace service.
func (c *CommandContext) NewClient(m *metrics.Metrics) (*engine.Client, error) {
	ring, err := c.Keyring()
	if err != nil {
		return nil, err
	}
	opts := engine.Options{
		SelfID:           c.UserID(),
		DisplayName:      c.Config.DisplayName,
		Store:            c.Local,
		Channel:          c.Channel(),
		Files:            media.NewDirStore(c.Workspace.MediaDir(), media.DefaultMaxSize),
		Metrics:          m,
		TypingTTL:        c.Config.TypingTTL,
		SweepInterval:    c.Config.SweepInterval,
		HeartbeatTimeout: c.Config.HeartbeatTimeout,
		TailSize:         c.Config.TailSize,
		SendRetries:      c.Config.SendRetries,
		OnSessionExpired: func(err error) {
			logger.Error("session expired", "err", err)
		},
	}
	if ring != nil {
		opts.Sealer = ring
	}
	return engine.New(opts)
}

// clientMetrics creates the engine collectors. When a metrics address is
// configured they are registered and served there; the returned stop
// function shuts the server down.
func (c *CommandContext) clientMetrics() (*metrics.Metrics, func()) {
	if strings.TrimSpace(c.Config.MetricsAddr) == "" {
		return metrics.New(nil), func() {}
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := &http.Server{Addr: c.Config.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", c.Config.MetricsAddr, "err", err)
		}
	}()
	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
