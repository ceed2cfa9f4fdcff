package panel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// marzbanAdapter speaks the Marzban REST API: form-encoded admin login for a
// bearer token, JSON user endpoints, expiry encoded as unix seconds.
type marzbanAdapter struct {
	creds  Credentials
	client *restClient
	logger *slog.Logger
	token  string
}

func newMarzbanAdapter(creds Credentials, logger *slog.Logger) Adapter {
	return &marzbanAdapter{
		creds:  creds,
		client: newRESTClient(creds.BaseURL, creds.Timeout, false),
		logger: logger,
	}
}

func (a *marzbanAdapter) Kind() Kind { return KindMarzban }

func (a *marzbanAdapter) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", a.creds.Username)
	form.Set("password", a.creds.Password)
	form.Set("grant_type", "password")

	var result struct {
		AccessToken string `json:"access_token"`
	}
	status, err := a.client.postForm(ctx, "/api/admin/token", form, &result)
	if err != nil {
		return err
	}
	if !statusOK(status) || result.AccessToken == "" {
		return fmt.Errorf("%w: token endpoint returned %d", ErrAuthFailed, status)
	}
	a.token = result.AccessToken
	a.client.setHeader("Authorization", "Bearer "+a.token)
	return nil
}

func (a *marzbanAdapter) ensureAuth(ctx context.Context) error {
	if a.token != "" {
		return nil
	}
	return a.Authenticate(ctx)
}

// dropSession forces re-authentication on the next operation.
func (a *marzbanAdapter) dropSession() {
	a.token = ""
	a.client.clearHeader("Authorization")
}

type marzbanUserBody struct {
	Username  string         `json:"username"`
	DataLimit int64          `json:"data_limit"`
	Expire    int64          `json:"expire"` // unix seconds, 0 = never
	Status    string         `json:"status,omitempty"`
	Proxies   map[string]any `json:"proxies,omitempty"`
	Note      string         `json:"note,omitempty"`
}

func (a *marzbanAdapter) CreateAccount(ctx context.Context, spec AccountSpec) (*CreateResult, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return nil, err
	}
	body := marzbanUserBody{
		Username:  spec.Username,
		DataLimit: spec.TrafficLimitBytes,
		Proxies:   proxySelection(spec.Services),
	}
	if !spec.ExpireAt.IsZero() {
		body.Expire = spec.ExpireAt.Unix()
	}
	var result struct {
		Username        string `json:"username"`
		SubscriptionURL string `json:"subscription_url"`
	}
	status, err := a.client.postJSON(ctx, "/api/user", body, &result)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		a.dropSession()
		return nil, ErrAuthFailed
	}
	if !statusOK(status) {
		return nil, fmt.Errorf("%w: create user returned %d", ErrRemote, status)
	}
	return &CreateResult{
		RemoteID:         result.Username,
		SubscriptionLink: absoluteLink(result.SubscriptionURL, a.creds),
	}, nil
}

func (a *marzbanAdapter) Enable(ctx context.Context, remoteID string) error {
	return a.setStatus(ctx, remoteID, "active")
}

func (a *marzbanAdapter) Disable(ctx context.Context, remoteID string) error {
	return a.setStatus(ctx, remoteID, "disabled")
}

func (a *marzbanAdapter) setStatus(ctx context.Context, remoteID, status string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	code, err := a.client.putJSON(ctx, "/api/user/"+url.PathEscape(remoteID), map[string]string{"status": status}, nil)
	if err != nil {
		return err
	}
	return a.interpret(code, "modify user")
}

func (a *marzbanAdapter) Delete(ctx context.Context, remoteID string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	code, err := a.client.deleteReq(ctx, "/api/user/"+url.PathEscape(remoteID))
	if err != nil {
		return err
	}
	return a.interpret(code, "delete user")
}

func (a *marzbanAdapter) Renew(ctx context.Context, remoteID string, spec AccountSpec) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	body := marzbanUserBody{DataLimit: spec.TrafficLimitBytes}
	if !spec.ExpireAt.IsZero() {
		body.Expire = spec.ExpireAt.Unix()
	}
	code, err := a.client.putJSON(ctx, "/api/user/"+url.PathEscape(remoteID), body, nil)
	if err != nil {
		return err
	}
	return a.interpret(code, "renew user")
}

func (a *marzbanAdapter) ReadUsageBytes(ctx context.Context, remoteID string) (int64, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return 0, err
	}
	status, data, err := a.client.getRaw(ctx, "/api/user/"+url.PathEscape(remoteID))
	if err != nil {
		return 0, err
	}
	if err := a.interpret(status, "read user"); err != nil {
		return 0, err
	}
	return parseUsageBytes(data)
}

func (a *marzbanAdapter) SubscriptionLink(ctx context.Context, remoteID string) (string, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return "", err
	}
	var result struct {
		SubscriptionURL string `json:"subscription_url"`
	}
	status, err := a.client.getJSON(ctx, "/api/user/"+url.PathEscape(remoteID), &result)
	if err != nil {
		return "", err
	}
	if err := a.interpret(status, "read user"); err != nil {
		return "", err
	}
	return absoluteLink(result.SubscriptionURL, a.creds), nil
}

func (a *marzbanAdapter) BuildAbsoluteLink(raw string) string {
	return absoluteLink(raw, a.creds)
}

func (a *marzbanAdapter) interpret(status int, op string) error {
	switch {
	case statusOK(status):
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		a.dropSession()
		return fmt.Errorf("%w: %s returned %d", ErrAuthFailed, op, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	default:
		return fmt.Errorf("%w: %s returned %d", ErrRemote, op, status)
	}
}

// proxySelection maps the generic service list onto Marzban's proxies shape.
func proxySelection(services []string) map[string]any {
	if len(services) == 0 {
		return map[string]any{"vless": map[string]any{}}
	}
	out := make(map[string]any, len(services))
	for _, svc := range services {
		out[svc] = map[string]any{}
	}
	return out
}
