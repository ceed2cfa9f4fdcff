package billing

import (
	"context"
	"io"
	"log/slog"
	"testing"

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
		return provision.Result{Success: false, Attempts: 3, LastError: "timeout"}
	}
	return provision.Result{Success: true, Attempts: 1}
}

func (f *fakeProvisioner) Disable(_ context.Context, _ *repository.Panel, remoteID string) provision.Result {
	f.disableCalls = append(f.disableCalls, remoteID)
	if f.fail {
		return provision.Result{Success: false, Attempts: 3, LastError: "timeout"}
	}
	return provision.Result{Success: true, Attempts: 1}
}

func newTestBiller(t *testing.T, store *repositorytest.Store, remote *fakeProvisioner, cfg config.BillingConfig) *Biller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trail := audit.NewTrail(store.AuditLogs(), store.ConfigEvents(), logger)
	return New(store, remote, trail, cfg, logger)
}

func TestCostForCeiling(t *testing.T) {
	cases := []struct {
		name  string
		delta int64
		price int64
		want  int64
	}{
		{"partial gibibyte rounds up", gib + gib/2, 780, 1170},
		{"exact gibibytes", 2 * gib, 780, 1560},
		{"one byte still costs", 1, 780, 1},
		{"zero delta is free", 0, 780, 0},
		{"zero price is free", gib, 0, 0},
		{"large delta stays exact", 10_000 * gib, 1_000_000, 10_000_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CostFor(tc.delta, tc.price))
		})
	}
}

func TestChargeDeltaClampedOnCounterReset(t *testing.T) {
	store := repositorytest.New()
	b := newTestBiller(t, store, &fakeProvisioner{}, config.BillingConfig{DefaultPricePerGB: 780, SuspendThreshold: -10_000})

	r := store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerActive, WalletBalance: 5000,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, UsageBytes: 4_000_000_000, Status: repository.ConfigActive})
	require.NoError(t, store.UsageSnapshots().Insert(context.Background(), &repository.UsageSnapshot{ResellerID: 1, TotalBytes: 5_000_000_000}))

	summary, err := b.ChargeReseller(context.Background(), r)
	require.NoError(t, err)

	// Counter went backwards: no charge, but the snapshot chain advances.
	assert.Zero(t, summary.Charged)
	assert.EqualValues(t, 5000, store.ResellersByID[1].WalletBalance)
	require.Len(t, store.Snapshots, 2)
	assert.EqualValues(t, 4_000_000_000, store.Snapshots[1].TotalBytes)
}

func TestChargeFirstTickChargesFullTotal(t *testing.T) {
	store := repositorytest.New()
	b := newTestBiller(t, store, &fakeProvisioner{}, config.BillingConfig{DefaultPricePerGB: 100, SuspendThreshold: -1_000_000})

	r := store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerActive, WalletBalance: 10_000,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, UsageBytes: 2 * gib, Status: repository.ConfigActive})

	summary, err := b.ChargeReseller(context.Background(), r)
	require.NoError(t, err)
	assert.EqualValues(t, 200, summary.TotalCost)
	assert.EqualValues(t, 9_800, store.ResellersByID[1].WalletBalance)
}

func TestChargeIncludesDisabledConfigsAndSettledUsage(t *testing.T) {
	store := repositorytest.New()
	b := newTestBiller(t, store, &fakeProvisioner{}, config.BillingConfig{DefaultPricePerGB: 100, SuspendThreshold: -1_000_000})

	r := store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerActive,
		WalletBalance: 10_000, SettledUsageBytes: 1 * gib,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, UsageBytes: 1 * gib, Status: repository.ConfigActive})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, UsageBytes: 1 * gib, Status: repository.ConfigDisabled})
	// Deleted configs are excluded; their usage lives in settled_usage_bytes.
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, UsageBytes: 50 * gib, Status: repository.ConfigDeleted})

	summary, err := b.ChargeReseller(context.Background(), r)
	require.NoError(t, err)
	assert.EqualValues(t, 300, summary.TotalCost)
	require.Len(t, store.Snapshots, 1)
	assert.EqualValues(t, 3*gib, store.Snapshots[0].TotalBytes)
}

func TestChargeUsesPerResellerPriceOverride(t *testing.T) {
	store := repositorytest.New()
	b := newTestBiller(t, store, &fakeProvisioner{}, config.BillingConfig{DefaultPricePerGB: 100, SuspendThreshold: -1_000_000})

	price := int64(500)
	r := store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerActive,
		WalletBalance: 10_000, WalletPricePerGB: &price,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, UsageBytes: 1 * gib, Status: repository.ConfigActive})

	summary, err := b.ChargeReseller(context.Background(), r)
	require.NoError(t, err)
	assert.EqualValues(t, 500, summary.TotalCost)
}

func TestThresholdSuspension(t *testing.T) {
	store := repositorytest.New()
	store.AddPanel(&repository.Panel{ID: 1, Kind: "marzban", BaseURL: "https://panel.example", Username: "a", Password: "b", Enabled: true})
	remote := &fakeProvisioner{}
	b := newTestBiller(t, store, remote, config.BillingConfig{DefaultPricePerGB: 1000, SuspendThreshold: 0})

	r := store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerActive, WalletBalance: 500,
	})
	store.AddConfig(&repository.ResellerConfig{ResellerID: 1, PanelID: 1, PanelUserID: "u1", UsageBytes: 1 * gib, Status: repository.ConfigActive})

	summary, err := b.ChargeReseller(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Suspended)

	got := store.ResellersByID[1]
	assert.Equal(t, repository.ResellerSuspendedWallet, got.Status)
	assert.EqualValues(t, -500, got.WalletBalance)

	cfg := store.ConfigsByID[1]
	assert.Equal(t, repository.ConfigDisabled, cfg.Status)
	assert.True(t, cfg.Meta.DisabledByWalletSuspension)
	assert.Equal(t, repository.ReasonWalletExhausted, cfg.Meta.Reason)
	assert.Equal(t, []string{"u1"}, remote.disableCalls)
}

func TestCreditReactivatesAboveThreshold(t *testing.T) {
	store := repositorytest.New()
	store.AddPanel(&repository.Panel{ID: 1, Kind: "marzban", BaseURL: "https://panel.example", Username: "a", Password: "b", Enabled: true})
	remote := &fakeProvisioner{}
	b := newTestBiller(t, store, remote, config.BillingConfig{DefaultPricePerGB: 1000, SuspendThreshold: 0})

	store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerSuspendedWallet, WalletBalance: -500,
	})
	walletCfg := store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "u1", Status: repository.ConfigDisabled,
		Meta: repository.SuspensionMeta{DisabledByWalletSuspension: true, Reason: repository.ReasonWalletExhausted},
	})
	enforcerCfg := store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "u2", Status: repository.ConfigDisabled,
		Meta: repository.SuspensionMeta{DisabledByResellerSuspension: true, Reason: repository.ReasonQuotaExhausted},
	})

	balance, err := b.CreditWallet(context.Background(), 1, 2000, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, balance)

	assert.Equal(t, repository.ResellerActive, store.ResellersByID[1].Status)
	assert.Equal(t, repository.ConfigActive, store.ConfigsByID[walletCfg.ID].Status)
	// Enforcer-owned disablement is not the biller's to undo.
	assert.Equal(t, repository.ConfigDisabled, store.ConfigsByID[enforcerCfg.ID].Status)
	assert.Equal(t, []string{"u1"}, remote.enableCalls)
}

func TestCreditBelowThresholdKeepsSuspension(t *testing.T) {
	store := repositorytest.New()
	b := newTestBiller(t, store, &fakeProvisioner{}, config.BillingConfig{SuspendThreshold: 0})

	store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerSuspendedWallet, WalletBalance: -5000,
	})

	balance, err := b.CreditWallet(context.Background(), 1, 1000, nil)
	require.NoError(t, err)
	assert.EqualValues(t, -4000, balance)
	assert.Equal(t, repository.ResellerSuspendedWallet, store.ResellersByID[1].Status)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	store := repositorytest.New()
	b := newTestBiller(t, store, &fakeProvisioner{}, config.BillingConfig{})
	store.AddReseller(&repository.Reseller{ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerActive})

	_, err := b.CreditWallet(context.Background(), 1, 0, nil)
	assert.Error(t, err)
	_, err = b.CreditWallet(context.Background(), 1, -100, nil)
	assert.Error(t, err)
}

func TestWalletReactivationOptimisticOnRemoteFailure(t *testing.T) {
	store := repositorytest.New()
	store.AddPanel(&repository.Panel{ID: 1, Kind: "marzban", BaseURL: "https://panel.example", Username: "a", Password: "b", Enabled: true})
	remote := &fakeProvisioner{fail: true}
	b := newTestBiller(t, store, remote, config.BillingConfig{SuspendThreshold: 0})

	store.AddReseller(&repository.Reseller{
		ID: 1, BillingType: repository.BillingWallet, Status: repository.ResellerSuspendedWallet, WalletBalance: -100,
	})
	store.AddConfig(&repository.ResellerConfig{
		ResellerID: 1, PanelID: 1, PanelUserID: "u1", Status: repository.ConfigDisabled,
		Meta: repository.SuspensionMeta{DisabledByWalletSuspension: true},
	})

	_, err := b.CreditWallet(context.Background(), 1, 1000, nil)
	require.NoError(t, err)

	// Local state flips; the failed call is recorded for the reconcile pass.
	assert.Equal(t, repository.ConfigActive, store.ConfigsByID[1].Status)
	require.Len(t, store.Events, 1)
	assert.False(t, store.Events[0].RemoteSuccess)
}
