package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/resellerd/internal/audit"
	"github.com/creamcroissant/resellerd/internal/panel"
	"github.com/creamcroissant/resellerd/internal/provision"
	"github.com/creamcroissant/resellerd/internal/repository"
	"github.com/creamcroissant/resellerd/internal/repository/repositorytest"
)

type fakeAccountProvisioner struct {
	created    []panel.AccountSpec
	deleted    []string
	renewed    []string
	createErr  error
	deleteFail bool
}

func (f *fakeAccountProvisioner) GenerateAccountName(r *repository.Reseller, kind string, primaryID int64, _ ...int) string {
	return "resell_1_cfg_1"
}

func (f *fakeAccountProvisioner) ProvisionAccount(_ context.Context, _ *repository.Panel, spec panel.AccountSpec) (*provision.Provisioned, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, spec)
	return &provision.Provisioned{
		Username:        spec.Username,
		SubscriptionURL: "https://node1.example/sub/" + spec.Username,
		PanelKind:       panel.KindMarzban,
		PanelUserID:     spec.Username,
	}, nil
}

func (f *fakeAccountProvisioner) Delete(_ context.Context, _ *repository.Panel, remoteID string) provision.Result {
	f.deleted = append(f.deleted, remoteID)
	if f.deleteFail {
		return provision.Result{Success: false, Attempts: 3, LastError: "timeout"}
	}
	return provision.Result{Success: true, Attempts: 1}
}

func (f *fakeAccountProvisioner) Renew(_ context.Context, _ *repository.Panel, remoteID string, _ panel.AccountSpec) provision.Result {
	f.renewed = append(f.renewed, remoteID)
	return provision.Result{Success: true, Attempts: 1}
}

func newLifecycleFixture(t *testing.T) (*repositorytest.Store, *fakeAccountProvisioner, *ConfigLifecycle) {
	t.Helper()
	store := repositorytest.New()
	store.AddPanel(&repository.Panel{ID: 1, Kind: "marzban", BaseURL: "https://p.example", Username: "a", Password: "b", Enabled: true})
	store.AddReseller(&repository.Reseller{ID: 1, BillingType: repository.BillingTraffic, Status: repository.ResellerActive})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := &fakeAccountProvisioner{}
	trail := audit.NewTrail(store.AuditLogs(), store.ConfigEvents(), logger)
	return store, fake, NewConfigLifecycle(store, fake, trail, logger)
}

func TestCreateProvisionsAndStoresIdentity(t *testing.T) {
	store, fake, lc := newLifecycleFixture(t)

	cfg, err := lc.Create(context.Background(), CreateConfigInput{
		ResellerID:        1,
		PanelID:           1,
		TrafficLimitBytes: 1 << 30,
		ExpireAt:          time.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, fake.created, 1)
	assert.Equal(t, "resell_1_cfg_1", fake.created[0].Username)

	stored := store.ConfigsByID[cfg.ID]
	assert.Equal(t, repository.ConfigActive, stored.Status)
	assert.Equal(t, "resell_1_cfg_1", stored.ExternalUsername)
	assert.Equal(t, "https://node1.example/sub/resell_1_cfg_1", stored.SubscriptionURL)
}

func TestCreateRefusesSuspendedReseller(t *testing.T) {
	store, _, lc := newLifecycleFixture(t)
	store.ResellersByID[1].Status = repository.ResellerSuspended

	_, err := lc.Create(context.Background(), CreateConfigInput{ResellerID: 1, PanelID: 1})
	assert.Error(t, err)
}

func TestCreateRollsBackOnRemoteFailure(t *testing.T) {
	store, fake, lc := newLifecycleFixture(t)
	fake.createErr = errors.New("panel exploded")

	_, err := lc.Create(context.Background(), CreateConfigInput{ResellerID: 1, PanelID: 1})
	require.Error(t, err)

	for _, cfg := range store.ConfigsByID {
		assert.Equal(t, repository.ConfigDeleted, cfg.Status)
	}
}

func TestDeleteSettlesUsageIntoReseller(t *testing.T) {
	store, fake, lc := newLifecycleFixture(t)
	cfg := store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "u1",
		UsageBytes: 3 << 30, Status: repository.ConfigActive,
	})

	require.NoError(t, lc.Delete(context.Background(), cfg.ID, nil))

	// Usage moves into the reseller's settled base so billing never loses it.
	assert.EqualValues(t, 3<<30, store.ResellersByID[1].SettledUsageBytes)
	assert.Equal(t, repository.ConfigDeleted, store.ConfigsByID[cfg.ID].Status)
	assert.Equal(t, []string{"u1"}, fake.deleted)

	t.Run("second delete is a no-op", func(t *testing.T) {
		require.NoError(t, lc.Delete(context.Background(), cfg.ID, nil))
		assert.EqualValues(t, 3<<30, store.ResellersByID[1].SettledUsageBytes)
		assert.Len(t, fake.deleted, 1)
	})
}

func TestDeleteRecordsRemoteFailureForReconcile(t *testing.T) {
	store, fake, lc := newLifecycleFixture(t)
	fake.deleteFail = true
	cfg := store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "u1", Status: repository.ConfigActive,
	})

	require.NoError(t, lc.Delete(context.Background(), cfg.ID, nil))

	// Local soft-delete holds; the failed remote call lands in the event log.
	assert.Equal(t, repository.ConfigDeleted, store.ConfigsByID[cfg.ID].Status)
	require.Len(t, store.Events, 1)
	assert.False(t, store.Events[0].RemoteSuccess)
}

func TestRenewReturnsTelemetry(t *testing.T) {
	store, fake, lc := newLifecycleFixture(t)
	cfg := store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "u1", ExternalUsername: "resell_1_cfg_1",
		Status: repository.ConfigActive,
	})

	result, err := lc.Renew(context.Background(), cfg.ID, 2<<30, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"u1"}, fake.renewed)
}
