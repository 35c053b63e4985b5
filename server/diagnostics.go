package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/server/metrics"
)

// Diagnostics is the HTTP sidecar for health and Prometheus scrapes. It
// is separate from the chat listener and disabled when MetricsAddr is
// empty.
type Diagnostics struct {
	profile  *profile.Profile
	registry *Registry
	echo     *echo.Echo
}

func NewDiagnostics(p *profile.Profile, m *metrics.Metrics, registry *Registry) *Diagnostics {
	d := &Diagnostics{profile: p, registry: registry}
	if p.MetricsAddr == "" {
		return d
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/healthz", d.healthz)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	d.echo = e
	return d
}

func (d *Diagnostics) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": d.profile.Version,
		"mode":    d.profile.Mode,
		"online":  d.registry.OnlineCount(),
	})
}

func (d *Diagnostics) Start() {
	if d.echo == nil {
		return
	}
	go func() {
		if err := d.echo.Start(d.profile.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("diagnostics server failed", "error", err)
		}
	}()
	slog.Info("diagnostics listening", "addr", d.profile.MetricsAddr)
}

func (d *Diagnostics) Shutdown(ctx context.Context) {
	if d.echo == nil {
		return
	}
	if err := d.echo.Shutdown(ctx); err != nil {
		slog.Warn("diagnostics shutdown failed", "error", err)
	}
}
