package entitlement

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/resellerd/internal/audit"
	"github.com/creamcroissant/resellerd/internal/config"
	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository"
	"github.com/creamcroissant/resellerd/internal/repository/repositorytest"
)

const gib = int64(1) << 30

type fakeProvisioner struct {
	enableCalls  []string
	disableCalls []string
	fail         bool
}

func (f *fakeProvisioner) Enable(_ context.Context, _ *repository.Panel, remoteID string) provision.Result {
	f.enableCalls = append(f.enableCalls, remoteID)
	if f.fail {
		return provision.Result{Success: false, Attempts: 3, LastError: "connection refused"}
	}
	return provision.Result{Success: true, Attempts: 1}
}

func (f *fakeProvisioner) Disable(_ context.Context, _ *repository.Panel, remoteID string) provision.Result {
	f.disableCalls = append(f.disableCalls, remoteID)
	if f.fail {
		return provision.Result{Success: false, Attempts: 3, LastError: "connection refused"}
	}
	return provision.Result{Success: true, Attempts: 1}
}

func newTestEnforcer(t *testing.T, store *repositorytest.Store, remote *fakeProvisioner) *Enforcer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trail := audit.NewTrail(store.AuditLogs(), store.ConfigEvents(), logger)
	return New(store, remote, trail, config.EntitlementConfig{
		GracePercent:  2,
		GraceMinBytes: 50 * 1024 * 1024,
		Timezone:      "UTC",
	}, logger)
}

func seedPanel(store *repositorytest.Store) {
	store.AddPanel(&repository.Panel{ID: 1, Kind: "marzban", BaseURL: "https://panel.example", Username: "admin", Password: "secret", Enabled: true})
}

func int64ptr(v int64) *int64 { return &v }

func TestEffectiveLimitBytes(t *testing.T) {
	store := repositorytest.New()
	e := newTestEnforcer(t, store, &fakeProvisioner{})

	t.Run("percentage term wins over minimum", func(t *testing.T) {
		total := 10 * gib
		limit, limited := e.EffectiveLimitBytes(&repository.Reseller{TrafficTotalBytes: &total})
		require.True(t, limited)
		// 2% of 10GiB is ~0.2GiB, well above the 50MiB floor.
		assert.Equal(t, total+total*2/100, limit)
		assert.Greater(t, limit, total+50*1024*1024)
	})

	t.Run("minimum wins for small quotas", func(t *testing.T) {
		total := 1 * gib
		limit, limited := e.EffectiveLimitBytes(&repository.Reseller{TrafficTotalBytes: &total})
		require.True(t, limited)
		// 2% of 1GiB is ~20MiB, below the 50MiB floor.
		assert.Equal(t, total+50*1024*1024, limit)
	})

	t.Run("nil total is unlimited", func(t *testing.T) {
		_, limited := e.EffectiveLimitBytes(&repository.Reseller{})
		assert.False(t, limited)
	})
}

func TestHasTrafficRemaining(t *testing.T) {
	store := repositorytest.New()
	e := newTestEnforcer(t, store, &fakeProvisioner{})
	total := 10 * gib

	t.Run("usage under effective limit", func(t *testing.T) {
		r := &repository.Reseller{TrafficTotalBytes: &total, TrafficUsedBytes: 10 * gib}
		// Nominal limit is exhausted but grace still covers it.
		assert.True(t, e.HasTrafficRemaining(r))
	})

	t.Run("usage past grace", func(t *testing.T) {
		r := &repository.Reseller{TrafficTotalBytes: &total, TrafficUsedBytes: 11 * gib}
		assert.False(t, e.HasTrafficRemaining(r))
	})

	t.Run("forgiven bytes excluded from counted usage", func(t *testing.T) {
		r := &repository.Reseller{TrafficTotalBytes: &total, TrafficUsedBytes: 11 * gib, AdminForgivenBytes: 2 * gib}
		assert.True(t, e.HasTrafficRemaining(r))
	})

	t.Run("unlimited always has remaining", func(t *testing.T) {
		r := &repository.Reseller{TrafficUsedBytes: 100 * gib}
		assert.True(t, e.HasTrafficRemaining(r))
	})
}

func TestWindowValidMinuteRounding(t *testing.T) {
	store := repositorytest.New()
	e := newTestEnforcer(t, store, &fakeProvisioner{})

	end := time.Date(2026, 3, 1, 10, 30, 45, 0, time.UTC)
	r := &repository.Reseller{WindowEndsAt: int64ptr(end.Unix())}

	// Expiry at 10:30:45 keeps the window open until 10:31:00.
	e.SetClock(func() time.Time { return time.Date(2026, 3, 1, 10, 30, 59, 0, time.UTC) })
	assert.True(t, e.WindowValid(r))

	e.SetClock(func() time.Time { return time.Date(2026, 3, 1, 10, 31, 0, 0, time.UTC) })
	assert.False(t, e.WindowValid(r))

	t.Run("no window end is always valid", func(t *testing.T) {
		assert.True(t, e.WindowValid(&repository.Reseller{}))
	})
}

func TestSuspendQuotaTakesPriorityOverWindow(t *testing.T) {
	store := repositorytest.New()
	seedPanel(store)
	remote := &fakeProvisioner{}
	e := newTestEnforcer(t, store, remote)

	total := 1 * gib
	past := time.Now().Add(-48 * time.Hour).Unix()
	r := store.AddReseller(&repository.Reseller{
		ID:                1,
		BillingType:       repository.BillingTraffic,
		Status:            repository.ResellerActive,
		TrafficTotalBytes: &total,
		TrafficUsedBytes:  5 * gib,
		WindowEndsAt:      &past,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "u1", Status: repository.ConfigActive})

	summary, err := e.EnforceReseller(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Suspended)

	assert.Equal(t, repository.ResellerSuspended, store.ResellersByID[1].Status)
	cfg := store.ConfigsByID[1]
	assert.Equal(t, repository.ConfigDisabled, cfg.Status)
	assert.True(t, cfg.Meta.DisabledByResellerSuspension)
	// Both conditions lapsed; quota exhaustion is the recorded cause but the
	// window marker still notes the expiry.
	assert.Equal(t, repository.ReasonQuotaExhausted, cfg.Meta.Reason)
	assert.True(t, cfg.Meta.SuspendedByTimeWindow)
	assert.NotZero(t, cfg.Meta.CauseEventID)
}

func TestSuspendWindowOnlyReason(t *testing.T) {
	store := repositorytest.New()
	seedPanel(store)
	e := newTestEnforcer(t, store, &fakeProvisioner{})

	past := time.Now().Add(-48 * time.Hour).Unix()
	r := store.AddReseller(&repository.Reseller{
		ID:           1,
		BillingType:  repository.BillingTraffic,
		Status:       repository.ResellerActive,
		WindowEndsAt: &past,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "u1", Status: repository.ConfigActive})

	_, err := e.EnforceReseller(context.Background(), r)
	require.NoError(t, err)

	cfg := store.ConfigsByID[1]
	assert.Equal(t, repository.ReasonWindowExpired, cfg.Meta.Reason)
	assert.True(t, cfg.Meta.SuspendedByTimeWindow)
}

func TestSuspendIsOptimisticOnRemoteFailure(t *testing.T) {
	store := repositorytest.New()
	seedPanel(store)
	remote := &fakeProvisioner{fail: true}
	e := newTestEnforcer(t, store, remote)

	total := 1 * gib
	r := store.AddReseller(&repository.Reseller{
		ID:                1,
		BillingType:       repository.BillingTraffic,
		Status:            repository.ResellerActive,
		TrafficTotalBytes: &total,
		TrafficUsedBytes:  5 * gib,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "u1", Status: repository.ConfigActive})

	summary, err := e.EnforceReseller(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RemoteFailures)

	// The local flip happens regardless; the failure is on the event.
	assert.Equal(t, repository.ConfigDisabled, store.ConfigsByID[1].Status)
	require.Len(t, store.Events, 1)
	ev := store.Events[0]
	assert.False(t, ev.RemoteSuccess)
	assert.Equal(t, 3, ev.Attempts)
	assert.Equal(t, "connection refused", ev.LastError)
}

func TestReactivateRequiresBothConditions(t *testing.T) {
	total := 1 * gib
	past := time.Now().Add(-time.Hour).Unix()
	future := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name     string
		reseller repository.Reseller
	}{
		{"traffic exhausted despite valid window", repository.Reseller{
			TrafficTotalBytes: &total, TrafficUsedBytes: 5 * gib, WindowEndsAt: &future,
		}},
		{"window expired despite traffic remaining", repository.Reseller{
			TrafficTotalBytes: &total, WindowEndsAt: &past,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := repositorytest.New()
			e := newTestEnforcer(t, store, &fakeProvisioner{})
			r := tc.reseller
			r.ID = 1
			r.BillingType = repository.BillingTraffic
			r.Status = repository.ResellerSuspended
			store.AddReseller(&r)

			err := e.ReactivateReseller(context.Background(), 1, ModeInline)
			assert.ErrorIs(t, err, ErrNotEligible)
			assert.Equal(t, repository.ResellerSuspended, store.ResellersByID[1].Status)
		})
	}
}

func TestReactivateSelectiveMarkers(t *testing.T) {
	store := repositorytest.New()
	seedPanel(store)
	remote := &fakeProvisioner{}
	e := newTestEnforcer(t, store, remote)

	future := time.Now().Add(time.Hour).Unix()
	store.AddReseller(&repository.Reseller{
		ID:          1,
		BillingType: repository.BillingTraffic,
		Status:      repository.ResellerSuspended,
		WindowEndsAt: &future,
	})
	auto := store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "auto",
		Status: repository.ConfigDisabled,
		Meta:   repository.SuspensionMeta{DisabledByResellerSuspension: true, Reason: repository.ReasonQuotaExhausted},
	})
	manual := store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "manual",
		Status: repository.ConfigDisabled,
	})

	require.NoError(t, e.ReactivateReseller(context.Background(), 1, ModeInline))

	assert.Equal(t, repository.ResellerActive, store.ResellersByID[1].Status)
	assert.Equal(t, repository.ConfigActive, store.ConfigsByID[auto.ID].Status)
	assert.True(t, store.ConfigsByID[auto.ID].Meta.IsZero())
	// Operator-disabled config is left untouched.
	assert.Equal(t, repository.ConfigDisabled, store.ConfigsByID[manual.ID].Status)
	assert.Equal(t, []string{"auto"}, remote.enableCalls)
}

func TestReactivateIsIdempotent(t *testing.T) {
	store := repositorytest.New()
	seedPanel(store)
	remote := &fakeProvisioner{}
	e := newTestEnforcer(t, store, remote)

	store.AddReseller(&repository.Reseller{
		ID:          1,
		BillingType: repository.BillingTraffic,
		Status:      repository.ResellerSuspended,
	})
	store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "u1",
		Status: repository.ConfigDisabled,
		Meta:   repository.SuspensionMeta{DisabledByResellerSuspension: true},
	})

	require.NoError(t, e.ReactivateReseller(context.Background(), 1, ModeInline))
	require.NoError(t, e.ReactivateReseller(context.Background(), 1, ModeInline))

	// Second invocation finds the reseller active and stops before touching
	// any config.
	assert.Len(t, remote.enableCalls, 1)
	assert.Equal(t, repository.ConfigActive, store.ConfigsByID[1].Status)
}

type recordingDispatcher struct {
	ids    []int64
	accept bool
}

func (d *recordingDispatcher) Enqueue(id int64) bool {
	d.ids = append(d.ids, id)
	return d.accept
}

func TestReactivateQueuedDispatchWithInlineFallback(t *testing.T) {
	newSuspended := func() *repositorytest.Store {
		store := repositorytest.New()
		seedPanel(store)
		store.AddReseller(&repository.Reseller{
			ID:          1,
			BillingType: repository.BillingTraffic,
			Status:      repository.ResellerSuspended,
		})
		return store
	}

	t.Run("queued when the dispatcher accepts", func(t *testing.T) {
		store := newSuspended()
		e := newTestEnforcer(t, store, &fakeProvisioner{})
		d := &recordingDispatcher{accept: true}
		e.SetDispatcher(d)

		require.NoError(t, e.ReactivateReseller(context.Background(), 1, ModeQueued))
		assert.Equal(t, []int64{1}, d.ids)
		// The worker has not run; the flip is deferred.
		assert.Equal(t, repository.ResellerSuspended, store.ResellersByID[1].Status)
	})

	t.Run("inline fallback when the dispatcher refuses", func(t *testing.T) {
		store := newSuspended()
		e := newTestEnforcer(t, store, &fakeProvisioner{})
		d := &recordingDispatcher{accept: false}
		e.SetDispatcher(d)

		require.NoError(t, e.ReactivateReseller(context.Background(), 1, ModeQueued))
		assert.Equal(t, repository.ResellerActive, store.ResellersByID[1].Status)
	})
}

func TestEnforceAllSkipsHealthyResellers(t *testing.T) {
	store := repositorytest.New()
	seedPanel(store)
	e := newTestEnforcer(t, store, &fakeProvisioner{})

	total := 10 * gib
	future := time.Now().Add(time.Hour).Unix()
	store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingTraffic, Status: repository.ResellerActive,
		TrafficTotalBytes: &total, TrafficUsedBytes: 1 * gib, WindowEndsAt: &future,
	})
	// Wallet-billed resellers never appear in the traffic sweep.
	store.AddReseller(&repository.Reseller{
		ID: 2, BillingType: repository.BillingWallet, Status: repository.ResellerActive,
	})

	summary, err := e.EnforceAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Zero(t, summary.Suspended)
	assert.Zero(t, summary.Reactivated)
}
