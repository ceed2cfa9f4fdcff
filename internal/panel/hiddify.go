package panel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// hiddifyAdapter drives Hiddify-manager panels. Auth is a static API key
// header, so Authenticate only validates it. The panel exposes a single
// stateful toggle endpoint instead of explicit enable/disable verbs; the
// adapter reads the current state first and skips the toggle when the
// account is already where it should be, since two toggles cancel out.
// Usage is reported in GB and converted to bytes here.
type hiddifyAdapter struct {
	creds  Credentials
	client *restClient
	logger *slog.Logger
	authed bool
}

func newHiddifyAdapter(creds Credentials, logger *slog.Logger) Adapter {
	c := newRESTClient(creds.BaseURL, creds.Timeout, false)
	c.setHeader("Hiddify-API-Key", creds.APIKey)
	return &hiddifyAdapter{creds: creds, client: c, logger: logger}
}

func (a *hiddifyAdapter) Kind() Kind { return KindHiddify }

func (a *hiddifyAdapter) Authenticate(ctx context.Context) error {
	status, err := a.client.getJSON(ctx, "/api/v2/admin/me/", nil)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: api key rejected", ErrAuthFailed)
	}
	if !statusOK(status) {
		return fmt.Errorf("%w: auth probe returned %d", ErrRemote, status)
	}
	a.authed = true
	return nil
}

func (a *hiddifyAdapter) ensureAuth(ctx context.Context) error {
	if a.authed {
		return nil
	}
	return a.Authenticate(ctx)
}

type hiddifyUser struct {
	UUID         string  `json:"uuid,omitempty"`
	Name         string  `json:"name,omitempty"`
	UsageLimitGB float64 `json:"usage_limit_GB"`
	PackageDays  int     `json:"package_days,omitempty"`
	Enable       bool    `json:"enable"`
}

const bytesPerGB = 1 << 30

func (a *hiddifyAdapter) CreateAccount(ctx context.Context, spec AccountSpec) (*CreateResult, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return nil, err
	}
	body := hiddifyUser{
		Name:         spec.Username,
		UsageLimitGB: float64(spec.TrafficLimitBytes) / bytesPerGB,
		PackageDays:  packageDays(spec.ExpireAt),
		Enable:       true,
	}
	var result struct {
		UUID string `json:"uuid"`
	}
	status, err := a.client.postJSON(ctx, "/api/v2/admin/user/", body, &result)
	if err != nil {
		return nil, err
	}
	if err := a.interpret(status, "create user"); err != nil {
		return nil, err
	}
	if result.UUID == "" {
		return nil, fmt.Errorf("%w: create response missing uuid", ErrRemote)
	}
	// No link in the create response; the caller falls back to
	// SubscriptionLink for the secondary fetch.
	return &CreateResult{RemoteID: result.UUID}, nil
}

func (a *hiddifyAdapter) Enable(ctx context.Context, remoteID string) error {
	return a.setEnabled(ctx, remoteID, true)
}

func (a *hiddifyAdapter) Disable(ctx context.Context, remoteID string) error {
	return a.setEnabled(ctx, remoteID, false)
}

// setEnabled implements the read-before-toggle dance. Skipping the toggle
// when the state already matches is required for idempotent sweeps.
func (a *hiddifyAdapter) setEnabled(ctx context.Context, remoteID string, want bool) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	var current hiddifyUser
	status, err := a.client.getJSON(ctx, "/api/v2/admin/user/"+url.PathEscape(remoteID)+"/", &current)
	if err != nil {
		return err
	}
	if err := a.interpret(status, "read user"); err != nil {
		return err
	}
	if current.Enable == want {
		return nil
	}
	status, err = a.client.postJSON(ctx, "/api/v2/admin/user/"+url.PathEscape(remoteID)+"/toggle/", nil, nil)
	if err != nil {
		return err
	}
	return a.interpret(status, "toggle user")
}

func (a *hiddifyAdapter) Delete(ctx context.Context, remoteID string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	status, err := a.client.deleteReq(ctx, "/api/v2/admin/user/"+url.PathEscape(remoteID)+"/")
	if err != nil {
		return err
	}
	return a.interpret(status, "delete user")
}

func (a *hiddifyAdapter) Renew(ctx context.Context, remoteID string, spec AccountSpec) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	body := hiddifyUser{
		UsageLimitGB: float64(spec.TrafficLimitBytes) / bytesPerGB,
		PackageDays:  packageDays(spec.ExpireAt),
		Enable:       true,
	}
	status, err := a.client.putJSON(ctx, "/api/v2/admin/user/"+url.PathEscape(remoteID)+"/", body, nil)
	if err != nil {
		return err
	}
	return a.interpret(status, "renew user")
}

func (a *hiddifyAdapter) ReadUsageBytes(ctx context.Context, remoteID string) (int64, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return 0, err
	}
	var result map[string]any
	status, err := a.client.getJSON(ctx, "/api/v2/admin/user/"+url.PathEscape(remoteID)+"/", &result)
	if err != nil {
		return 0, err
	}
	if err := a.interpret(status, "read user"); err != nil {
		return 0, err
	}
	if gb, ok := asFloat64(result["current_usage_GB"]); ok {
		return int64(gb * bytesPerGB), nil
	}
	// No usage field at all is a valid zero, not a failure.
	return 0, nil
}

func (a *hiddifyAdapter) SubscriptionLink(ctx context.Context, remoteID string) (string, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return "", err
	}
	var result struct {
		ProfileURL string `json:"profile_url"`
	}
	status, err := a.client.getJSON(ctx, "/api/v2/admin/user/"+url.PathEscape(remoteID)+"/", &result)
	if err != nil {
		return "", err
	}
	if err := a.interpret(status, "read user"); err != nil {
		return "", err
	}
	if result.ProfileURL != "" {
		return absoluteLink(result.ProfileURL, a.creds), nil
	}
	return absoluteLink(url.PathEscape(remoteID)+"/sub/", a.creds), nil
}

func (a *hiddifyAdapter) BuildAbsoluteLink(raw string) string {
	return absoluteLink(raw, a.creds)
}

func (a *hiddifyAdapter) interpret(status int, op string) error {
	switch {
	case statusOK(status):
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		a.authed = false
		return fmt.Errorf("%w: %s returned %d", ErrAuthFailed, op, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	default:
		return fmt.Errorf("%w: %s returned %d", ErrRemote, op, status)
	}
}

func packageDays(expireAt time.Time) int {
	if expireAt.IsZero() {
		return 0
	}
	days := int(time.Until(expireAt).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}
