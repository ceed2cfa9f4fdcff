package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/resellerd/internal/audit"
	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository"
	"github.com/creamcroissant/resellerd/internal/repository/repositorytest"
)

type fakeRemote struct {
	enables  []string
	disables []string
	deletes  []string
	fail     bool
}

func (f *fakeRemote) result() provision.Result {
	if f.fail {
		return provision.Result{Success: false, Attempts: 3, LastError: "still down"}
	}
	return provision.Result{Success: true, Attempts: 1}
}

func (f *fakeRemote) Enable(_ context.Context, _ *repository.Panel, id string) provision.Result {
	f.enables = append(f.enables, id)
	return f.result()
}

func (f *fakeRemote) Disable(_ context.Context, _ *repository.Panel, id string) provision.Result {
	f.disables = append(f.disables, id)
	return f.result()
}

func (f *fakeRemote) Delete(_ context.Context, _ *repository.Panel, id string) provision.Result {
	f.deletes = append(f.deletes, id)
	return f.result()
}

func newReconcileFixture(t *testing.T) (*repositorytest.Store, *fakeRemote, *Reconciler) {
	t.Helper()
	store := repositorytest.New()
	store.AddPanel(&repository.Panel{ID: 1, Kind: "marzban", BaseURL: "https://p.example", Username: "a", Password: "b", Enabled: true})
	store.AddReseller(&repository.Reseller{ID: 1, BillingType: repository.BillingTraffic, Status: repository.ResellerSuspended})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	remote := &fakeRemote{}
	trail := audit.NewTrail(store.AuditLogs(), store.ConfigEvents(), logger)
	return store, remote, NewReconciler(store, remote, trail, logger)
}

func failedEvent(cfg *repository.ResellerConfig, action string) *repository.ConfigEvent {
	return &repository.ConfigEvent{
		ConfigID: cfg.ID, ResellerID: cfg.ResellerID, Action: action,
		RemoteSuccess: false, Attempts: 3, LastError: "timeout",
		PanelID: cfg.PanelID, PanelKind: cfg.PanelKind,
	}
}

func TestReconcileReplaysLocalState(t *testing.T) {
	store, remote, rec := newReconcileFixture(t)
	ctx := context.Background()

	disabled := store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "d1", Status: repository.ConfigDisabled})
	active := store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "a1", Status: repository.ConfigActive})
	deleted := store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "x1", Status: repository.ConfigDeleted})
	for _, cfg := range []*repository.ResellerConfig{disabled, active, deleted} {
		_, err := store.ConfigEvents().Create(ctx, failedEvent(cfg, "disable"))
		require.NoError(t, err)
	}

	summary, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Examined)
	assert.Equal(t, 3, summary.Replayed)
	assert.Equal(t, 3, summary.Recovered)

	// The operation replayed follows the config's current local state, not
	// the action recorded on the failed event.
	assert.Equal(t, []string{"d1"}, remote.disables)
	assert.Equal(t, []string{"a1"}, remote.enables)
	assert.Equal(t, []string{"x1"}, remote.deletes)
}

func TestReconcileConvergesViaAppendedEvents(t *testing.T) {
	store, remote, rec := newReconcileFixture(t)
	ctx := context.Background()

	cfg := store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "d1", Status: repository.ConfigDisabled})
	_, err := store.ConfigEvents().Create(ctx, failedEvent(cfg, "disable"))
	require.NoError(t, err)

	// First pass succeeds and appends a successful event.
	summary, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recovered)

	// Second pass sees the appended success as the latest event and has
	// nothing to do. No rows were mutated to get here.
	summary, err = rec.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Examined)
	assert.Len(t, remote.disables, 1)
}

func TestReconcileKeepsRetryingWhileRemoteIsDown(t *testing.T) {
	store, remote, rec := newReconcileFixture(t)
	remote.fail = true
	ctx := context.Background()

	cfg := store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "d1", Status: repository.ConfigDisabled})
	_, err := store.ConfigEvents().Create(ctx, failedEvent(cfg, "disable"))
	require.NoError(t, err)

	summary, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StillDown)

	// The appended failure keeps the config eligible for the next pass.
	summary, err = rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Examined)
	assert.Len(t, remote.disables, 2)
}

func TestReconcileSkipsVanishedConfigs(t *testing.T) {
	store, _, rec := newReconcileFixture(t)
	ctx := context.Background()

	_, err := store.ConfigEvents().Create(ctx, &repository.ConfigEvent{
		ConfigID: 999, ResellerID: 1, Action: "disable", RemoteSuccess: false,
	})
	require.NoError(t, err)

	summary, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
}
