// Package panel abstracts heterogeneous VPN management panels behind one
// provisioning contract. Each backend family gets its own adapter; all
// timestamp and unit conversions happen at this boundary.
package panel

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind identifies a panel backend family.
type Kind string

const (
	KindMarzban     Kind = "marzban"
	KindMarzneshin  Kind = "marzneshin"
	KindXUI         Kind = "xui"
	KindHiddify     Kind = "hiddify"
	KindWGDashboard Kind = "wgdashboard"
)

// Valid reports whether the kind names a known backend family.
func (k Kind) Valid() bool {
	switch k {
	case KindMarzban, KindMarzneshin, KindXUI, KindHiddify, KindWGDashboard:
		return true
	}
	return false
}

var (
	// ErrAuthFailed indicates the panel rejected our credentials.
	ErrAuthFailed = errors.New("panel: authentication failed")
	// ErrNotFound indicates the remote account does not exist.
	ErrNotFound = errors.New("panel: remote account not found")
	// ErrUnsupported indicates the backend has no endpoint for the operation.
	ErrUnsupported = errors.New("panel: operation not supported by backend")
	// ErrRemote indicates a network or server-side failure.
	ErrRemote = errors.New("panel: remote call failed")
)

// Credentials carry everything needed to talk to one panel instance.
type Credentials struct {
	BaseURL      string
	NodeHostname string // preferred host for subscription links
	Username     string
	Password     string
	APIKey       string
	Timeout      time.Duration
}

// AccountSpec describes the account to create or renew.
type AccountSpec struct {
	Username          string
	TrafficLimitBytes int64     // 0 = unlimited
	ExpireAt          time.Time // zero = never
	Services          []string  // backend-specific service/node selection
	MaxConnections    int
}

// CreateResult is the normalized outcome of account creation. Callers never
// see partial results; a failed create returns an error instead.
type CreateResult struct {
	RemoteID         string
	SubscriptionLink string
}

// Adapter is the capability set every backend implements. A session token
// obtained by Authenticate is cached for the adapter instance's lifetime and
// re-acquired once per operation when absent.
type Adapter interface {
	Kind() Kind
	Authenticate(ctx context.Context) error
	CreateAccount(ctx context.Context, spec AccountSpec) (*CreateResult, error)
	Enable(ctx context.Context, remoteID string) error
	Disable(ctx context.Context, remoteID string) error
	Delete(ctx context.Context, remoteID string) error
	// Renew updates quota/expiry on an existing account. Backends without an
	// update endpoint return ErrUnsupported.
	Renew(ctx context.Context, remoteID string, spec AccountSpec) error
	// ReadUsageBytes returns cumulative usage. A backend with no usage
	// concept returns 0; an error signals a hard failure.
	ReadUsageBytes(ctx context.Context, remoteID string) (int64, error)
	// SubscriptionLink fetches the subscription link when the create
	// response omitted one.
	SubscriptionLink(ctx context.Context, remoteID string) (string, error)
	BuildAbsoluteLink(raw string) string
}

// absoluteLink resolves a relative subscription path against the node
// hostname, falling back to the panel base URL. It never double-concatenates
// slashes.
func absoluteLink(raw string, creds Credentials) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	base := creds.NodeHostname
	if base == "" {
		base = creds.BaseURL
	}
	if base == "" {
		return raw
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(raw, "/")
}
