package panel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// marzneshinAdapter targets the Marzneshin fork. The API is close to
// Marzban's but expiry travels as an ISO-8601 string and users are addressed
// by numeric id. The conversion stays inside this adapter.
type marzneshinAdapter struct {
	creds  Credentials
	client *restClient
	logger *slog.Logger
	token  string
}

func newMarzneshinAdapter(creds Credentials, logger *slog.Logger) Adapter {
	return &marzneshinAdapter{
		creds:  creds,
		client: newRESTClient(creds.BaseURL, creds.Timeout, false),
		logger: logger,
	}
}

func (a *marzneshinAdapter) Kind() Kind { return KindMarzneshin }

func (a *marzneshinAdapter) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", a.creds.Username)
	form.Set("password", a.creds.Password)

	var result struct {
		AccessToken string `json:"access_token"`
	}
	status, err := a.client.postForm(ctx, "/api/admins/token", form, &result)
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

func (a *marzneshinAdapter) ensureAuth(ctx context.Context) error {
	if a.token != "" {
		return nil
	}
	return a.Authenticate(ctx)
}

func (a *marzneshinAdapter) dropSession() {
	a.token = ""
	a.client.clearHeader("Authorization")
}

type marzneshinUserBody struct {
	Username   string   `json:"username,omitempty"`
	DataLimit  int64    `json:"data_limit"`
	ExpireDate string   `json:"expire_date,omitempty"` // ISO-8601, empty = never
	ServiceIDs []string `json:"service_ids,omitempty"`
}

func isoExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (a *marzneshinAdapter) CreateAccount(ctx context.Context, spec AccountSpec) (*CreateResult, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return nil, err
	}
	body := marzneshinUserBody{
		Username:   spec.Username,
		DataLimit:  spec.TrafficLimitBytes,
		ExpireDate: isoExpiry(spec.ExpireAt),
		ServiceIDs: spec.Services,
	}
	var result struct {
		ID              int64  `json:"id"`
		SubscriptionURL string `json:"subscription_url"`
	}
	status, err := a.client.postJSON(ctx, "/api/users", body, &result)
	if err != nil {
		return nil, err
	}
	if err := a.interpret(status, "create user"); err != nil {
		return nil, err
	}
	return &CreateResult{
		RemoteID:         fmt.Sprintf("%d", result.ID),
		SubscriptionLink: absoluteLink(result.SubscriptionURL, a.creds),
	}, nil
}

func (a *marzneshinAdapter) Enable(ctx context.Context, remoteID string) error {
	return a.post(ctx, "/api/users/"+url.PathEscape(remoteID)+"/enable", "enable user")
}

func (a *marzneshinAdapter) Disable(ctx context.Context, remoteID string) error {
	return a.post(ctx, "/api/users/"+url.PathEscape(remoteID)+"/disable", "disable user")
}

func (a *marzneshinAdapter) post(ctx context.Context, path, op string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	status, err := a.client.postJSON(ctx, path, nil, nil)
	if err != nil {
		return err
	}
	return a.interpret(status, op)
}

func (a *marzneshinAdapter) Delete(ctx context.Context, remoteID string) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	status, err := a.client.deleteReq(ctx, "/api/users/"+url.PathEscape(remoteID))
	if err != nil {
		return err
	}
	return a.interpret(status, "delete user")
}

func (a *marzneshinAdapter) Renew(ctx context.Context, remoteID string, spec AccountSpec) error {
	if err := a.ensureAuth(ctx); err != nil {
		return err
	}
	body := marzneshinUserBody{
		DataLimit:  spec.TrafficLimitBytes,
		ExpireDate: isoExpiry(spec.ExpireAt),
	}
	status, err := a.client.putJSON(ctx, "/api/users/"+url.PathEscape(remoteID), body, nil)
	if err != nil {
		return err
	}
	return a.interpret(status, "renew user")
}

func (a *marzneshinAdapter) ReadUsageBytes(ctx context.Context, remoteID string) (int64, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return 0, err
	}
	status, data, err := a.client.getRaw(ctx, "/api/users/"+url.PathEscape(remoteID))
	if err != nil {
		return 0, err
	}
	if err := a.interpret(status, "read user"); err != nil {
		return 0, err
	}
	return parseUsageBytes(data)
}

func (a *marzneshinAdapter) SubscriptionLink(ctx context.Context, remoteID string) (string, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return "", err
	}
	var result struct {
		SubscriptionURL string `json:"subscription_url"`
	}
	status, err := a.client.getJSON(ctx, "/api/users/"+url.PathEscape(remoteID), &result)
	if err != nil {
		return "", err
	}
	if err := a.interpret(status, "read user"); err != nil {
		return "", err
	}
	return absoluteLink(result.SubscriptionURL, a.creds), nil
}

func (a *marzneshinAdapter) BuildAbsoluteLink(raw string) string {
	return absoluteLink(raw, a.creds)
}

func (a *marzneshinAdapter) interpret(status int, op string) error {
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
