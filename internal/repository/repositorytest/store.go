// Package repositorytest provides an in-memory Store used by the service
// layer tests.
package repositorytest

import (
	"context"
	"sort"
	"sync"

	"github.com/creamcroissant/resellerd/internal/repository"
)

// Store is a concurrency-safe in-memory implementation of repository.Store.
type Store struct {
	mu sync.Mutex

	ResellersByID map[int64]*repository.Reseller
	ConfigsByID   map[int64]*repository.ResellerConfig
	Snapshots     []*repository.UsageSnapshot
	Audits        []*repository.AuditLog
	Events        []*repository.ConfigEvent
	PanelsByID    map[int64]*repository.Panel

	nextConfigID   int64
	nextSnapshotID int64
	nextAuditID    int64
	nextEventID    int64
}

// New returns an empty fake store.
func New() *Store {
	return &Store{
		ResellersByID: make(map[int64]*repository.Reseller),
		ConfigsByID:   make(map[int64]*repository.ResellerConfig),
		PanelsByID:    make(map[int64]*repository.Panel),
	}
}

// AddReseller seeds a reseller row.
func (s *Store) AddReseller(r *repository.Reseller) *repository.Reseller {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResellersByID[r.ID] = r
	return r
}

// AddConfig seeds a config row, assigning an id when absent.
func (s *Store) AddConfig(c *repository.ResellerConfig) *repository.ResellerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextConfigID++
		c.ID = s.nextConfigID
	} else if c.ID > s.nextConfigID {
		s.nextConfigID = c.ID
	}
	s.ConfigsByID[c.ID] = c
	return c
}

// AddPanel seeds a panel row.
func (s *Store) AddPanel(p *repository.Panel) *repository.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PanelsByID[p.ID] = p
	return p
}

func (s *Store) Resellers() repository.ResellerRepository { return (*resellerRepo)(s) }
func (s *Store) ResellerConfigs() repository.ResellerConfigRepository { return (*configRepo)(s) }
func (s *Store) UsageSnapshots() repository.UsageSnapshotRepository { return (*snapshotRepo)(s) }
func (s *Store) AuditLogs() repository.AuditLogRepository { return (*auditRepo)(s) }
func (s *Store) ConfigEvents() repository.ConfigEventRepository { return (*eventRepo)(s) }
func (s *Store) Panels() repository.PanelRepository { return (*panelRepo)(s) }

type resellerRepo Store

func (r *resellerRepo) FindByID(_ context.Context, id int64) (*repository.Reseller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reseller, ok := r.ResellersByID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *reseller
	return &copied, nil
}

func (r *resellerRepo) ListByBilling(_ context.Context, billing repository.BillingType) ([]*repository.Reseller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Reseller
	for _, reseller := range r.ResellersByID {
		if reseller.BillingType == billing {
			copied := *reseller
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *resellerRepo) ListAll(_ context.Context) ([]*repository.Reseller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Reseller
	for _, reseller := range r.ResellersByID {
		copied := *reseller
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *resellerRepo) UpdateStatus(_ context.Context, id int64, status repository.ResellerStatus, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reseller, ok := r.ResellersByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	reseller.Status = status
	reseller.UpdatedAt = updatedAt
	return nil
}

func (r *resellerRepo) AdjustWallet(_ context.Context, id int64, delta int64, updatedAt int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reseller, ok := r.ResellersByID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	reseller.WalletBalance += delta
	reseller.UpdatedAt = updatedAt
	return reseller.WalletBalance, nil
}

func (r *resellerRepo) AddSettledUsage(_ context.Context, id int64, bytes int64, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reseller, ok := r.ResellersByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	reseller.SettledUsageBytes += bytes
	reseller.UpdatedAt = updatedAt
	return nil
}

func (r *resellerRepo) IncrementTrafficUsed(_ context.Context, id int64, bytes int64, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reseller, ok := r.ResellersByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	reseller.TrafficUsedBytes += bytes
	reseller.UpdatedAt = updatedAt
	return nil
}

type configRepo Store

func (r *configRepo) FindByID(_ context.Context, id int64) (*repository.ResellerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.ConfigsByID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (r *configRepo) ListByReseller(_ context.Context, resellerID int64) ([]*repository.ResellerConfig, error) {
	return r.list(resellerID, func(c *repository.ResellerConfig) bool {
		return c.Status != repository.ConfigDeleted
	})
}

func (r *configRepo) ListByResellerAndStatus(_ context.Context, resellerID int64, status repository.ConfigStatus) ([]*repository.ResellerConfig, error) {
	return r.list(resellerID, func(c *repository.ResellerConfig) bool {
		return c.Status == status
	})
}

func (r *configRepo) list(resellerID int64, keep func(*repository.ResellerConfig) bool) ([]*repository.ResellerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.ResellerConfig
	for _, cfg := range r.ConfigsByID {
		if cfg.ResellerID == resellerID && keep(cfg) {
			copied := *cfg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *configRepo) Create(_ context.Context, cfg *repository.ResellerConfig) (*repository.ResellerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextConfigID++
	cfg.ID = r.nextConfigID
	copied := *cfg
	r.ConfigsByID[cfg.ID] = &copied
	return cfg, nil
}

func (r *configRepo) UpdateProvisioned(_ context.Context, id int64, username, panelUserID, subscriptionURL string, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.ConfigsByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	cfg.ExternalUsername = username
	cfg.PanelUserID = panelUserID
	cfg.SubscriptionURL = subscriptionURL
	cfg.UpdatedAt = updatedAt
	return nil
}

func (r *configRepo) SetStatus(_ context.Context, id int64, status repository.ConfigStatus, disabledAt *int64, meta repository.SuspensionMeta, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.ConfigsByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	cfg.Status = status
	cfg.DisabledAt = disabledAt
	cfg.Meta = meta
	cfg.UpdatedAt = updatedAt
	return nil
}

func (r *configRepo) UpdateUsage(_ context.Context, id int64, usageBytes int64, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.ConfigsByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	cfg.UsageBytes = usageBytes
	cfg.UpdatedAt = updatedAt
	return nil
}

func (r *configRepo) SoftDelete(_ context.Context, id int64, updatedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.ConfigsByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	cfg.Status = repository.ConfigDeleted
	cfg.UpdatedAt = updatedAt
	return nil
}

type snapshotRepo Store

func (r *snapshotRepo) Latest(_ context.Context, resellerID int64) (*repository.UsageSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *repository.UsageSnapshot
	for _, snap := range r.Snapshots {
		if snap.ResellerID != resellerID {
			continue
		}
		if latest == nil || snap.ID > latest.ID {
			latest = snap
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *snapshotRepo) Insert(_ context.Context, snapshot *repository.UsageSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSnapshotID++
	snapshot.ID = r.nextSnapshotID
	copied := *snapshot
	r.Snapshots = append(r.Snapshots, &copied)
	return nil
}

type auditRepo Store

func (r *auditRepo) Create(_ context.Context, entry *repository.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextAuditID++
	entry.ID = r.nextAuditID
	copied := *entry
	r.Audits = append(r.Audits, &copied)
	return nil
}

type eventRepo Store

func (r *eventRepo) Create(_ context.Context, event *repository.ConfigEvent) (*repository.ConfigEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEventID++
	event.ID = r.nextEventID
	copied := *event
	r.Events = append(r.Events, &copied)
	return event, nil
}

func (r *eventRepo) ListByConfig(_ context.Context, configID int64, limit int) ([]*repository.ConfigEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.ConfigEvent
	for i := len(r.Events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.Events[i].ConfigID == configID {
			copied := *r.Events[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *eventRepo) LatestFailedPerConfig(_ context.Context, limit int) ([]*repository.ConfigEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[int64]*repository.ConfigEvent)
	for _, ev := range r.Events {
		latest[ev.ConfigID] = ev
	}
	var out []*repository.ConfigEvent
	for _, ev := range latest {
		if !ev.RemoteSuccess {
			copied := *ev
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type panelRepo Store

func (r *panelRepo) FindByID(_ context.Context, id int64) (*repository.Panel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.PanelsByID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *panelRepo) ListEnabled(_ context.Context) ([]*repository.Panel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Panel
	for _, p := range r.PanelsByID {
		if p.Enabled {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
