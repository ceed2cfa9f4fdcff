// Package provision dispatches remote account operations to the right panel
// adapter, with deterministic naming, bounded retry and outbound rate
// limiting. Every remote call returns a structured telemetry result so
// callers can make local-state decisions independent of remote outcome.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/creamcroissant/resellerd/internal/panel"
	"github.com/creamcroissant/resellerd/internal/repository"
)

// Result is the telemetry triple attached to every remote provisioning call.
// Attempts stays zero when no network call was even possible.
type Result struct {
	Success   bool
	Attempts  int
	LastError string
}

// Provisioned is the normalized outcome of account creation.
type Provisioned struct {
	Username        string
	SubscriptionURL string
	PanelKind       panel.Kind
	PanelUserID     string
}

// Config bounds retry and outbound request rate.
type Config struct {
	MaxAttempts   int
	RetryInterval time.Duration
	RatePerSecond float64
	RateBurst     int
	PanelTimeout  time.Duration
	DefaultPrefix string
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 3
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.DefaultPrefix == "" {
		c.DefaultPrefix = "resell"
	}
	return c
}

// Provisioner resolves adapters by panel kind and wraps their operations.
// Adapters are cached per panel so session tokens survive across a sweep.
type Provisioner struct {
	registry *panel.Registry
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu       sync.Mutex
	adapters map[int64]panel.Adapter
}

// New constructs a Provisioner.
func New(registry *panel.Registry, cfg Config, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	return &Provisioner{
		registry: registry,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		logger:   logger,
		adapters: make(map[int64]panel.Adapter),
	}
}

// adapterFor returns the cached adapter for a panel, building one on first
// use. Missing credentials are an immediate failure with no network call.
func (p *Provisioner) adapterFor(pnl *repository.Panel) (panel.Adapter, error) {
	if pnl == nil {
		return nil, errors.New("provision: no panel attached")
	}
	if pnl.BaseURL == "" {
		return nil, fmt.Errorf("provision: panel %d has no base url", pnl.ID)
	}
	if pnl.Username == "" && pnl.APIKey == "" {
		return nil, fmt.Errorf("provision: panel %d has no credentials", pnl.ID)
	}
	kind := panel.Kind(pnl.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("provision: panel %d has unknown kind %q", pnl.ID, pnl.Kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if adapter, ok := p.adapters[pnl.ID]; ok {
		return adapter, nil
	}
	adapter, err := p.registry.Resolve(kind, panel.Credentials{
		BaseURL:      pnl.BaseURL,
		NodeHostname: pnl.NodeHostname,
		Username:     pnl.Username,
		Password:     pnl.Password,
		APIKey:       pnl.APIKey,
		Timeout:      p.cfg.PanelTimeout,
	}, p.logger.With("panel_id", pnl.ID, "panel_kind", pnl.Kind))
	if err != nil {
		return nil, err
	}
	p.adapters[pnl.ID] = adapter
	return adapter, nil
}

// throttle gates every outbound call so a bulk sweep over N configs issues
// no more than the configured rate against the remote panels.
func (p *Provisioner) throttle(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// ProvisionAccount authenticates, creates the account and — when the create
// response omits a subscription link — performs a secondary fetch for one.
// Every failure path is logged with the panel id and account name.
func (p *Provisioner) ProvisionAccount(ctx context.Context, pnl *repository.Panel, spec panel.AccountSpec) (*Provisioned, error) {
	adapter, err := p.adapterFor(pnl)
	if err != nil {
		p.logger.Error("provision dispatch failed", "panel_id", panelID(pnl), "account", spec.Username, "error", err)
		return nil, err
	}
	if err := p.throttle(ctx); err != nil {
		return nil, err
	}
	created, err := adapter.CreateAccount(ctx, spec)
	if err != nil {
		observeRemoteCall(adapter.Kind(), "create", false)
		p.logger.Error("account creation failed", "panel_id", pnl.ID, "account", spec.Username, "error", err)
		return nil, err
	}
	observeRemoteCall(adapter.Kind(), "create", true)

	link := created.SubscriptionLink
	if link == "" {
		link, err = adapter.SubscriptionLink(ctx, created.RemoteID)
		if err != nil {
			p.logger.Error("subscription link fetch failed", "panel_id", pnl.ID, "account", spec.Username, "error", err)
			return nil, err
		}
	}
	return &Provisioned{
		Username:        spec.Username,
		SubscriptionURL: adapter.BuildAbsoluteLink(link),
		PanelKind:       adapter.Kind(),
		PanelUserID:     created.RemoteID,
	}, nil
}

// Enable re-enables a remote account with bounded retry.
func (p *Provisioner) Enable(ctx context.Context, pnl *repository.Panel, remoteID string) Result {
	return p.call(ctx, pnl, "enable", func(ctx context.Context, a panel.Adapter) error {
		return a.Enable(ctx, remoteID)
	})
}

// Disable disables a remote account with bounded retry.
func (p *Provisioner) Disable(ctx context.Context, pnl *repository.Panel, remoteID string) Result {
	return p.call(ctx, pnl, "disable", func(ctx context.Context, a panel.Adapter) error {
		return a.Disable(ctx, remoteID)
	})
}

// Delete removes a remote account with bounded retry.
func (p *Provisioner) Delete(ctx context.Context, pnl *repository.Panel, remoteID string) Result {
	return p.call(ctx, pnl, "delete", func(ctx context.Context, a panel.Adapter) error {
		return a.Delete(ctx, remoteID)
	})
}

// Renew updates quota/expiry on a remote account with bounded retry.
func (p *Provisioner) Renew(ctx context.Context, pnl *repository.Panel, remoteID string, spec panel.AccountSpec) Result {
	return p.call(ctx, pnl, "renew", func(ctx context.Context, a panel.Adapter) error {
		return a.Renew(ctx, remoteID, spec)
	})
}

// ReadUsage reads cumulative usage bytes for a remote account.
func (p *Provisioner) ReadUsage(ctx context.Context, pnl *repository.Panel, remoteID string) (int64, error) {
	adapter, err := p.adapterFor(pnl)
	if err != nil {
		return 0, err
	}
	if err := p.throttle(ctx); err != nil {
		return 0, err
	}
	usage, err := adapter.ReadUsageBytes(ctx, remoteID)
	observeRemoteCall(adapter.Kind(), "read_usage", err == nil)
	return usage, err
}

// call wraps an adapter operation with rate limiting and bounded retry,
// always returning telemetry rather than a bare boolean.
func (p *Provisioner) call(ctx context.Context, pnl *repository.Panel, op string, fn func(context.Context, panel.Adapter) error) Result {
	adapter, err := p.adapterFor(pnl)
	if err != nil {
		// No network call was possible; attempts stays zero.
		return Result{Success: false, Attempts: 0, LastError: err.Error()}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInterval
	bo.MaxElapsedTime = 0

	var result Result
	for result.Attempts < p.cfg.MaxAttempts {
		if err := p.throttle(ctx); err != nil {
			result.LastError = err.Error()
			break
		}
		result.Attempts++
		err := fn(ctx, adapter)
		if err == nil {
			result.Success = true
			break
		}
		result.LastError = err.Error()
		if errors.Is(err, panel.ErrUnsupported) {
			break
		}
		if result.Attempts >= p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			result.LastError = ctx.Err().Error()
			result.Attempts = p.cfg.MaxAttempts
		case <-time.After(bo.NextBackOff()):
			continue
		}
		break
	}
	observeRemoteCall(adapter.Kind(), op, result.Success)
	if !result.Success {
		p.logger.Warn("remote call failed",
			"panel_id", pnl.ID, "op", op, "attempts", result.Attempts, "error", result.LastError)
	}
	return result
}

func panelID(pnl *repository.Panel) int64 {
	if pnl == nil {
		return 0
	}
	return pnl.ID
}
