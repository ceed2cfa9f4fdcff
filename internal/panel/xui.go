package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// xuiAdapter drives 3x-ui style panels. Login is form-encoded and yields a
// session cookie held in the client's jar. The backend has no native
// "disable" verb: disablement is simulated by moving the client expiry to a
// sentinel date in the past, and enable clears the expiry again. Expiry
// travels as unix milliseconds.
type xuiAdapter struct {
	creds  Credentials
	client *restClient
	logger *slog.Logger
	authed bool
}

// sentinelExpiryMillis is 2001-01-01T00:00:00Z; any client with this expiry
// is dead as far as the panel core is concerned.
const sentinelExpiryMillis int64 = 978307200000

func newXUIAdapter(creds Credentials, logger *slog.Logger) Adapter {
	return &xuiAdapter{
		creds:  creds,
		client: newRESTClient(creds.BaseURL, creds.Timeout, true),
		logger: logger,
	}
}

func (a *xuiAdapter) Kind() Kind { return KindXUI }

type xuiEnvelope struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

func (a *xuiAdapter) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", a.creds.Username)
	form.Set("password", a.creds.Password)

	var result xuiEnvelope
	status, err := a.client.postForm(ctx, "/login", form, &result)
	if err != nil {
		return err
	}
	if !statusOK(status) || !result.Success {
		return fmt.Errorf("%w: login rejected (%s)", ErrAuthFailed, result.Msg)
	}
	a.authed = true
	return nil
}

func (a *xuiAdapter) ensureAuth(ctx context.Context) error {
	if a.authed {
		return nil
	}
	return a.Authenticate(ctx)
}

type xuiClient struct {
	Email      string `json:"email"`
	TotalGB    int64  `json:"totalGB"` // bytes despite the name, 0 = unlimited
	ExpiryTime int64  `json:"expiryTime"`
	LimitIP    int    `json:"limitIp,omitempty"`
	SubID      string `json:"subId,omitempty"`
}

// clientSettings reproduces the panel's JSON-in-a-string settings field.
func clientSettings(clients []xuiClient) (string, error) {
	data, err := json.Marshal(map[string][]xuiClient{"clients": clients})
	if err != nil {
		return "", fmt.Errorf("marshal client settings: %w", err)
	}
	return string(data), nil
}

func millisExpiry(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (a *xuiAdapter) CreateAccount(ctx context.Context, spec AccountSpec) (*CreateResult, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return nil, err
	}
	settings, err := clientSettings([]xuiClient{{
		Email:      spec.Username,
		TotalGB:    spec.TrafficLimitBytes,
		ExpiryTime: millisExpiry(spec.ExpireAt),
		LimitIP:    spec.MaxConnections,
		SubID:      spec.Username,
	}})
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"id":       inboundID(spec.Services),
		"settings": settings,
	}
	var result xuiEnvelope
	status, err := a.client.postJSON(ctx, "/panel/api/inbounds/addClient", body, &result)
	if err != nil {
		return nil, err
	}
	if !statusOK(status) || !result.Success {
		return nil, fmt.Errorf("%w: add client failed (%s)", ErrRemote, result.Msg)
	}
	// The create response never carries a link; the subscription URL is a
	// deterministic path on the node host.
	return &CreateResult{
		RemoteID:         spec.Username,
		SubscriptionLink: absoluteLink("sub/"+url.PathEscape(spec.Username), a.creds),
	}, nil
}

func (a *xuiAdapter) Enable(ctx context.Context, remoteID string) error {
	return a.updateExpiry(ctx, remoteID, 0, "enable client")
}

func (a *xuiAdapter) Disable(ctx context.Context, remoteID string) error {
	return a.updateExpiry(ctx, remoteID, sentinelExpiryMillis, "disable client")
}

func (a *xuiAdapter) updateExpiry(ctx context.Context, remoteID string, expiryMillis int64, op string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	settings, err := clientSettings([]xuiClient{{Email: remoteID, ExpiryTime: expiryMillis, SubID: remoteID}})
	if err != nil {
		return err
	}
	var result xuiEnvelope
	status, err := a.client.postJSON(ctx, "/panel/api/inbounds/updateClient/"+url.PathEscape(remoteID), map[string]any{"settings": settings}, &result)
	if err != nil {
		return err
	}
	if !statusOK(status) || !result.Success {
		a.authed = false
		return fmt.Errorf("%w: %s failed (%s)", ErrRemote, op, result.Msg)
	}
	return nil
}

func (a *xuiAdapter) Delete(ctx context.Context, remoteID string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	var result xuiEnvelope
	status, err := a.client.postJSON(ctx, "/panel/api/inbounds/delClient/"+url.PathEscape(remoteID), nil, &result)
	if err != nil {
		return err
	}
	if !statusOK(status) || !result.Success {
		return fmt.Errorf("%w: delete client failed (%s)", ErrRemote, result.Msg)
	}
	return nil
}

func (a *xuiAdapter) Renew(ctx context.Context, remoteID string, spec AccountSpec) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	settings, err := clientSettings([]xuiClient{{
		Email:      remoteID,
		TotalGB:    spec.TrafficLimitBytes,
		ExpiryTime: millisExpiry(spec.ExpireAt),
		SubID:      remoteID,
	}})
	if err != nil {
		return err
	}
	var result xuiEnvelope
	status, err := a.client.postJSON(ctx, "/panel/api/inbounds/updateClient/"+url.PathEscape(remoteID), map[string]any{"settings": settings}, &result)
	if err != nil {
		return err
	}
	if !statusOK(status) || !result.Success {
		return fmt.Errorf("%w: renew client failed (%s)", ErrRemote, result.Msg)
	}
	return nil
}

func (a *xuiAdapter) ReadUsageBytes(ctx context.Context, remoteID string) (int64, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return 0, err
	}
	status, data, err := a.client.getRaw(ctx, "/panel/api/inbounds/getClientTraffics/"+url.PathEscape(remoteID))
	if err != nil {
		return 0, err
	}
	if !statusOK(status) {
		return 0, fmt.Errorf("%w: client traffic returned %d", ErrRemote, status)
	}
	return parseUsageBytes(data)
}

func (a *xuiAdapter) SubscriptionLink(_ context.Context, remoteID string) (string, error) {
	return absoluteLink("sub/"+url.PathEscape(remoteID), a.creds), nil
}

func (a *xuiAdapter) BuildAbsoluteLink(raw string) string {
	return absoluteLink(raw, a.creds)
}

func inboundID(services []string) int {
	if len(services) == 0 {
		return 1
	}
	var id int
	if _, err := fmt.Sscanf(services[0], "%d", &id); err != nil || id <= 0 {
		return 1
	}
	return id
}
