package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/resellerd/internal/panel"
	"github.com/creamcroissant/resellerd/internal/repository"
)

type fakeAdapter struct {
	kind         panel.Kind
	failuresLeft int
	permanentErr error
	calls        int
}

func (f *fakeAdapter) Kind() panel.Kind                     { return f.kind }
func (f *fakeAdapter) Authenticate(context.Context) error   { return nil }
func (f *fakeAdapter) BuildAbsoluteLink(raw string) string  { return raw }
func (f *fakeAdapter) Delete(context.Context, string) error { return f.step() }
func (f *fakeAdapter) Enable(context.Context, string) error { return f.step() }
func (f *fakeAdapter) Disable(context.Context, string) error {
	return f.step()
}
func (f *fakeAdapter) Renew(context.Context, string, panel.AccountSpec) error {
	return f.step()
}
func (f *fakeAdapter) ReadUsageBytes(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeAdapter) SubscriptionLink(context.Context, string) (string, error) {
	return "sub/u", nil
}
func (f *fakeAdapter) CreateAccount(context.Context, panel.AccountSpec) (*panel.CreateResult, error) {
	return &panel.CreateResult{RemoteID: "u"}, nil
}

func (f *fakeAdapter) step() error {
	f.calls++
	if f.permanentErr != nil {
		return f.permanentErr
	}
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("transient failure")
	}
	return nil
}

func newTestProvisioner(adapter *fakeAdapter) *Provisioner {
	registry := panel.NewRegistry()
	registry.Register(panel.KindMarzban, func(panel.Credentials, *slog.Logger) panel.Adapter {
		return adapter
	})
	return New(registry, Config{
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
		RatePerSecond: 1000,
		RateBurst:     1000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testPanel() *repository.Panel {
	return &repository.Panel{ID: 1, Kind: "marzban", BaseURL: "https://panel.example", Username: "admin", Password: "secret"}
}

func TestGenerateAccountName(t *testing.T) {
	p := New(panel.NewRegistry(), Config{DefaultPrefix: "resell"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("secondary index appended", func(t *testing.T) {
		r := &repository.Reseller{ID: 5}
		assert.Equal(t, "resell_5_order_123_1", p.GenerateAccountName(r, "order", 123, 1))
	})

	t.Run("reseller prefix and config abbreviation", func(t *testing.T) {
		r := &repository.Reseller{ID: 7, AccountPrefix: "test"}
		assert.Equal(t, "test_7_cfg_456", p.GenerateAccountName(r, "config", 456))
	})

	t.Run("default prefix when reseller has none", func(t *testing.T) {
		r := &repository.Reseller{ID: 9}
		assert.Equal(t, "resell_9_cfg_1", p.GenerateAccountName(r, "config", 1))
	})
}

func TestCallRetriesTransientFailures(t *testing.T) {
	adapter := &fakeAdapter{kind: panel.KindMarzban, failuresLeft: 2}
	p := newTestProvisioner(adapter)

	result := p.Disable(context.Background(), testPanel(), "u1")
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, adapter.calls)
}

func TestCallGivesUpAfterMaxAttempts(t *testing.T) {
	adapter := &fakeAdapter{kind: panel.KindMarzban, failuresLeft: 10}
	p := newTestProvisioner(adapter)

	result := p.Enable(context.Background(), testPanel(), "u1")
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "transient failure", result.LastError)
}

func TestCallStopsOnUnsupported(t *testing.T) {
	adapter := &fakeAdapter{kind: panel.KindMarzban, permanentErr: panel.ErrUnsupported}
	p := newTestProvisioner(adapter)

	result := p.Renew(context.Background(), testPanel(), "u1", panel.AccountSpec{})
	assert.False(t, result.Success)
	// Unsupported operations are not retried.
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, adapter.calls)
}

func TestMissingCredentialsMeansZeroAttempts(t *testing.T) {
	p := newTestProvisioner(&fakeAdapter{kind: panel.KindMarzban})

	result := p.Disable(context.Background(), &repository.Panel{ID: 2, Kind: "marzban", BaseURL: "https://p.example"}, "u1")
	assert.False(t, result.Success)
	assert.Zero(t, result.Attempts)
	assert.NotEmpty(t, result.LastError)

	t.Run("unknown kind", func(t *testing.T) {
		result := p.Disable(context.Background(), &repository.Panel{ID: 3, Kind: "mystery", BaseURL: "https://p.example", APIKey: "k"}, "u1")
		assert.False(t, result.Success)
		assert.Zero(t, result.Attempts)
	})

	t.Run("nil panel", func(t *testing.T) {
		result := p.Disable(context.Background(), nil, "u1")
		assert.False(t, result.Success)
		assert.Zero(t, result.Attempts)
	})
}

func TestAdapterCachedPerPanel(t *testing.T) {
	built := 0
	registry := panel.NewRegistry()
	registry.Register(panel.KindMarzban, func(panel.Credentials, *slog.Logger) panel.Adapter {
		built++
		return &fakeAdapter{kind: panel.KindMarzban}
	})
	p := New(registry, Config{RatePerSecond: 1000, RateBurst: 1000}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pnl := testPanel()
	p.Disable(context.Background(), pnl, "u1")
	p.Enable(context.Background(), pnl, "u1")
	assert.Equal(t, 1, built)
}

func TestRateLimitBoundsSweepThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	registry := panel.NewRegistry()
	registry.Register(panel.KindMarzban, func(panel.Credentials, *slog.Logger) panel.Adapter {
		return &fakeAdapter{kind: panel.KindMarzban}
	})
	p := New(registry, Config{RatePerSecond: 3, RateBurst: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, p.throttle(context.Background()))
	}
	// 10 operations at 3/s with burst 1 needs ~3s.
	assert.GreaterOrEqual(t, time.Since(start), 2500*time.Millisecond)
}
