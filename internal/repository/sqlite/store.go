package sqlite

import (
	"database/sql"

	"github.com/creamcroissant/resellerd/internal/repository"
)

// Store wires SQLite-backed repository implementations.
type Store struct {
	db           *sql.DB
	resellers    repository.ResellerRepository
	configs      repository.ResellerConfigRepository
	snapshots    repository.UsageSnapshotRepository
	auditLogs    repository.AuditLogRepository
	configEvents repository.ConfigEventRepository
	panels       repository.PanelRepository
}

// NewStore constructs a SQLite-backed repository store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		resellers:    &resellerRepo{db: db},
		configs:      &resellerConfigRepo{db: db},
		snapshots:    &usageSnapshotRepo{db: db},
		auditLogs:    &auditLogRepo{db: db},
		configEvents: &configEventRepo{db: db},
		panels:       &panelRepo{db: db},
	}
}

func (s *Store) Resellers() repository.ResellerRepository {
	return s.resellers
}

func (s *Store) ResellerConfigs() repository.ResellerConfigRepository {
	return s.configs
}

func (s *Store) UsageSnapshots() repository.UsageSnapshotRepository {
	return s.snapshots
}

func (s *Store) AuditLogs() repository.AuditLogRepository {
	return s.auditLogs
}

func (s *Store) ConfigEvents() repository.ConfigEventRepository {
	return s.configEvents
}

func (s *Store) Panels() repository.PanelRepository {
	return s.panels
}
