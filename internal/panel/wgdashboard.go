package panel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// wgdashboardAdapter manages WireGuard peers through a WGDashboard-style
// API. The backend carries no update endpoint, so Renew is unsupported and
// reported as such rather than attempted. Usage comes from the peer's
// transfer counters.
type wgdashboardAdapter struct {
	creds  Credentials
	client *restClient
	logger *slog.Logger
	authed bool
}

func newWGDashboardAdapter(creds Credentials, logger *slog.Logger) Adapter {
	c := newRESTClient(creds.BaseURL, creds.Timeout, false)
	c.setHeader("wg-dashboard-apikey", creds.APIKey)
	return &wgdashboardAdapter{creds: creds, client: c, logger: logger}
}

func (a *wgdashboardAdapter) Kind() Kind { return KindWGDashboard }

type wgEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func (a *wgdashboardAdapter) Authenticate(ctx context.Context) error {
	var result wgEnvelope
	status, err := a.client.getJSON(ctx, "/api/validateAPIKey", &result)
	if err != nil {
		return err
	}
	if !statusOK(status) || !result.Status {
		return fmt.Errorf("%w: api key rejected", ErrAuthFailed)
	}
	a.authed = true
	return nil
}

func (a *wgdashboardAdapter) ensureAuth(ctx context.Context) error {
	if a.authed {
		return nil
	}
	return a.Authenticate(ctx)
}

func (a *wgdashboardAdapter) CreateAccount(ctx context.Context, spec AccountSpec) (*CreateResult, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"name":            spec.Username,
		"total_data":      spec.TrafficLimitBytes,
		"allowed_configs": spec.Services,
	}
	var result struct {
		wgEnvelope
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	status, err := a.client.postJSON(ctx, "/api/addPeers", body, &result)
	if err != nil {
		return nil, err
	}
	if !statusOK(status) || !result.Status {
		return nil, fmt.Errorf("%w: add peer failed (%s)", ErrRemote, result.Message)
	}
	remoteID := result.Data.ID
	if remoteID == "" {
		remoteID = spec.Username
	}
	return &CreateResult{
		RemoteID:         remoteID,
		SubscriptionLink: absoluteLink("api/downloadPeer/"+url.PathEscape(remoteID), a.creds),
	}, nil
}

func (a *wgdashboardAdapter) Enable(ctx context.Context, remoteID string) error {
	return a.peerOp(ctx, "/api/allowAccessPeers", remoteID, "enable peer")
}

func (a *wgdashboardAdapter) Disable(ctx context.Context, remoteID string) error {
	return a.peerOp(ctx, "/api/restrictPeers", remoteID, "disable peer")
}

func (a *wgdashboardAdapter) Delete(ctx context.Context, remoteID string) error {
	return a.peerOp(ctx, "/api/deletePeers", remoteID, "delete peer")
}

func (a *wgdashboardAdapter) peerOp(ctx context.Context, path, remoteID, op string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	var result wgEnvelope
	status, err := a.client.postJSON(ctx, path, map[string]any{"peers": []string{remoteID}}, &result)
	if err != nil {
		return err
	}
	if !statusOK(status) || !result.Status {
		return fmt.Errorf("%w: %s failed (%s)", ErrRemote, op, result.Message)
	}
	return nil
}

// Renew is not attempted: the dashboard API has no peer update endpoint.
func (a *wgdashboardAdapter) Renew(_ context.Context, _ string, _ AccountSpec) error {
	return ErrUnsupported
}

func (a *wgdashboardAdapter) ReadUsageBytes(ctx context.Context, remoteID string) (int64, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return 0, err
	}
	status, data, err := a.client.getRaw(ctx, "/api/getPeer/"+url.PathEscape(remoteID))
	if err != nil {
		return 0, err
	}
	if !statusOK(status) {
		return 0, fmt.Errorf("%w: get peer returned %d", ErrRemote, status)
	}
	return parseUsageBytes(data)
}

func (a *wgdashboardAdapter) SubscriptionLink(_ context.Context, remoteID string) (string, error) {
	return absoluteLink("api/downloadPeer/"+url.PathEscape(remoteID), a.creds), nil
}

func (a *wgdashboardAdapter) BuildAbsoluteLink(raw string) string {
	return absoluteLink(raw, a.creds)
}
