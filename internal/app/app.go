// Package app wires the engine together: store, event bus, receipts,
// membership, the JSON gateway and the ops endpoints, plus process
// lifecycle.
package app

import (
	"context"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"converse/pkg/api"
	"converse/pkg/auth"
	"converse/pkg/config"
	"converse/pkg/receipts"
	"converse/pkg/resync"
	"converse/pkg/session"
	"converse/pkg/store"
	"converse/pkg/transport"
	"converse/pkg/upload"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	bus       *transport.Bus
	receipts  *receipts.Tracker
	directory *auth.Directory
	registry  *session.Registry
	gateway   *api.Gateway

	srv *fasthttp.Server
}

// New initializes resources that do not require a running context. Call
// Run to start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := store.Open(eff.DBPath); err != nil {
		return nil, err
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		bus:       transport.NewBus(eff.Config.Engine.SubscriberBuffer),
		receipts:  receipts.NewTracker(),
		directory: auth.NewDirectory(),
		registry:  session.NewRegistry(),
	}
	store.SetPublisher(a.bus)

	uploads := upload.NewService(
		&upload.DiskUploader{Dir: filepath.Join(eff.DBPath, "attachments"), BaseURL: "/attachments"},
		eff.Config.Engine.MaxAttachmentBytes.Int64(),
	)
	a.gateway = api.NewGateway(api.GatewayOptions{
		Receipts: a.receipts,
		Uploads:  uploads,
		IsMember: a.directory.IsMember,
		Limiter:  auth.NewLimiterPool(eff.Config.Security.RateLimit.RPS, eff.Config.Security.RateLimit.Burst),
		PageSize: eff.Config.Engine.HistoryPageSize,
	})
	return a, nil
}

// Bus exposes the event bus for embedding callers.
func (a *App) Bus() *transport.Bus { return a.bus }

// Directory exposes the membership table for embedding callers.
func (a *App) Directory() *auth.Directory { return a.directory }

// Run starts the periodic resync scheduler and the HTTP server, and
// blocks until ctx is cancelled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopResync, err := resync.Start(ctx, a.eff.Config.Resync, a.registry)
	if err != nil {
		return err
	}
	defer stopResync()

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		if a.srv != nil {
			_ = a.srv.Shutdown()
		}
		return store.Close()
	case err := <-errCh:
		_ = store.Close()
		return err
	}
}
