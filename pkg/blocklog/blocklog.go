// Package blocklog embeds block history logging, inspection and rollback
// into a game server host.
//
// A host implements the interfaces in internal/host through the aliases
// below, builds a Service with New, forwards its events to the Handler
// and calls Close on shutdown.
package blocklog

import (
	"context"

	"go.uber.org/zap"

	"github.com/blocklog/blocklog/internal/app"
	"github.com/blocklog/blocklog/internal/config"
	"github.com/blocklog/blocklog/internal/dispatch"
	"github.com/blocklog/blocklog/internal/host"
)

type (
	Config     = config.Config
	Host       = host.Host
	World      = host.World
	MainThread = host.MainThread
	Reporter   = host.Reporter
	Container  = host.Container
	Handler    = dispatch.Handler
	Actor      = dispatch.Actor
	Block      = dispatch.Block
	Outcome    = dispatch.Outcome

	RollbackCommand = dispatch.RollbackCommand
)

const (
	LeftClick  = dispatch.LeftClick
	RightClick = dispatch.RightClick
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config { return config.DefaultConfig() }

// LoadConfig reads path, if non-empty, and overlays BLOCKLOG_*
// environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Service is a running blocklog instance bound to one host.
type Service struct {
	app *app.App
}

// New builds and starts a Service. logger may be nil.
func New(ctx context.Context, cfg *Config, h Host, logger *zap.Logger) (*Service, error) {
	a, err := app.New(cfg, h, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return &Service{app: a}, nil
}

// Handler receives host events and commands.
func (s *Service) Handler() *Handler { return s.app.Handler() }

// Available reports whether the database opened.
func (s *Service) Available() bool { return s.app.Pipeline().Available() }

// Flush persists everything queued so far.
func (s *Service) Flush(ctx context.Context) error { return s.app.Pipeline().Flush(ctx) }

// Close flushes pending entries and releases the database.
func (s *Service) Close() error { return s.app.Close() }
