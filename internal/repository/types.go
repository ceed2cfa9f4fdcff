package repository

// EntitlementType describes how a reseller acquired access.
type EntitlementType string

const (
	EntitlementPlan    EntitlementType = "plan"
	EntitlementTraffic EntitlementType = "traffic"
	EntitlementWallet  EntitlementType = "wallet"
)

// BillingType selects which sweep owns a reseller's lifecycle.
type BillingType string

const (
	BillingTraffic BillingType = "traffic"
	BillingWallet  BillingType = "wallet"
)

// ResellerStatus is the reseller-level state machine state.
type ResellerStatus string

const (
	ResellerActive          ResellerStatus = "active"
	ResellerSuspended       ResellerStatus = "suspended"
	ResellerSuspendedWallet ResellerStatus = "suspended_wallet"
)

// ConfigStatus is the per-account state on a remote panel.
type ConfigStatus string

const (
	ConfigActive   ConfigStatus = "active"
	ConfigDisabled ConfigStatus = "disabled"
	ConfigExpired  ConfigStatus = "expired"
	ConfigDeleted  ConfigStatus = "deleted"
)

// SuspendReason records why an automatic transition fired.
type SuspendReason string

const (
	ReasonQuotaExhausted  SuspendReason = "quota_exhausted"
	ReasonWindowExpired   SuspendReason = "window_expired"
	ReasonWalletExhausted SuspendReason = "wallet_exhausted"
)

// Reseller is one tenant account. Status transitions go through the
// entitlement enforcer or the wallet biller, never through request handlers.
type Reseller struct {
	ID                 int64
	EntitlementType    EntitlementType
	BillingType        BillingType
	Status             ResellerStatus
	AccountPrefix      string
	TrafficTotalBytes  *int64 // nil = unlimited
	TrafficUsedBytes   int64
	AdminForgivenBytes int64
	SettledUsageBytes  int64 // usage kept in the billing base after config deletion
	WindowStartsAt     *int64
	WindowEndsAt       *int64
	WalletBalance      int64 // smallest currency unit, may go negative
	WalletPricePerGB   *int64
	CreatedAt          int64
	UpdatedAt          int64
}

// SuspensionMeta is the typed provenance bag stored on a disabled config.
// A disabled config must carry at least one marker so selective reactivation
// can tell apart automatic suspensions from manual operator actions.
type SuspensionMeta struct {
	DisabledByResellerSuspension bool          `json:"disabled_by_reseller_suspension,omitempty"`
	DisabledByWalletSuspension   bool          `json:"disabled_by_wallet_suspension,omitempty"`
	SuspendedByTimeWindow        bool          `json:"suspended_by_time_window,omitempty"`
	Reason                       SuspendReason `json:"reason,omitempty"`
	CauseEventID                 int64         `json:"cause_event_id,omitempty"`
}

// AutoSuspendedByEnforcer reports whether the enforcement sweep owns the
// disablement and may therefore auto-reactivate the config.
func (m SuspensionMeta) AutoSuspendedByEnforcer() bool {
	return m.DisabledByResellerSuspension
}

// AutoSuspendedByWallet reports whether the wallet biller owns the disablement.
func (m SuspensionMeta) AutoSuspendedByWallet() bool {
	return m.DisabledByWalletSuspension
}

// IsZero reports whether no provenance is recorded.
func (m SuspensionMeta) IsZero() bool {
	return m == SuspensionMeta{}
}

// ResellerConfig is one provisioned account on a remote panel.
type ResellerConfig struct {
	ID                int64
	ResellerID        int64
	PanelID           int64
	PanelKind         string // denormalized from the panel row
	PanelUserID       string // remote identity
	ExternalUsername  string
	SubscriptionURL   string
	TrafficLimitBytes int64
	UsageBytes        int64
	Status            ConfigStatus
	DisabledAt        *int64
	Meta              SuspensionMeta
	CreatedAt         int64
	UpdatedAt         int64
}

// UsageSnapshot is an append-only cumulative usage measurement.
type UsageSnapshot struct {
	ID         int64
	ResellerID int64
	TotalBytes int64
	MeasuredAt int64
}

// AuditLog is immutable once written; nil Actor means "system".
type AuditLog struct {
	ID            int64
	Action        string
	Actor         *string
	TargetType    string
	TargetID      int64
	Reason        string
	Meta          map[string]any
	CorrelationID string
	CreatedAt     int64
}

// ConfigEvent records one provisioning state transition with its remote
// telemetry. Rows are never mutated or deleted.
type ConfigEvent struct {
	ID            int64
	ConfigID      int64
	ResellerID    int64
	Action        string
	Reason        string
	RemoteSuccess bool
	Attempts      int
	LastError     string
	PanelID       int64
	PanelKind     string
	CorrelationID string
	CreatedAt     int64
}

// Panel holds credentials and type for a remote backend. Read-only here.
type Panel struct {
	ID           int64
	Name         string
	Kind         string
	BaseURL      string
	NodeHostname string
	Username     string
	Password     string
	APIKey       string
	Enabled      bool
	CreatedAt    int64
	UpdatedAt    int64
}
