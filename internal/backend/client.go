package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/foxzi/backoffice/internal/access"
	"github.com/foxzi/backoffice/internal/metrics"
	"github.com/foxzi/backoffice/internal/session"
)

// DefaultLoginPath is the backend endpoint that issues tokens.
const DefaultLoginPath = "/api/admins/login"

// Client is the one authenticated client every console component shares.
type Client struct {
	baseURL    string
	loginPath  string
	httpClient *http.Client
	store      session.Store
	onExpired  func(ctx context.Context)
	expiry     *singleflight.Group
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.loginPath = path
		}
	}
}

// WithExpiredHook registers the navigation to the login screen. It runs once
// per expired token, after the session has been cleared.
func WithExpiredHook(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.onExpired = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the backend at baseURL reading its token
// from store.
func NewClient(baseURL string, store session.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		loginPath: DefaultLoginPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:  store,
		expiry: &singleflight.Group{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind returns a client reading from another session store. The copy shares
// the transport and the expiry coalescing of c.
func (c *Client) Bind(store session.Store) *Client {
	cp := *c
	cp.store = store
	return &cp
}

// WithHook returns a copy of c whose expiry hook is fn.
func (c *Client) WithHook(fn func(ctx context.Context)) *Client {
	cp := *c
	cp.onExpired = fn
	return &cp
}

// Store returns the session store the client reads from.
func (c *Client) Store() session.Store {
	return c.store
}

// Fetch sends req with the stored bearer token. Method, body and other
// headers are passed through. A 401 clears the session, fires the expiry
// hook and returns ErrSessionExpired with the body already closed.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	sess, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Token == "" {
		return nil, ErrUnauthenticated
	}
	if sess.Expired(time.Now()) {
		c.expire(ctx, sess.Token)
		return nil, ErrSessionExpired
	}

	req = req.Clone(ctx)
	req.Header.Set("Authorization", "Bearer "+sess.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.expire(ctx, sess.Token)
		return nil, ErrSessionExpired
	}

	return resp, nil
}

// expire clears the session holding token. Concurrent and repeated calls for
// the same token clear and notify exactly once.
func (c *Client) expire(ctx context.Context, token string) {
	ctx = context.WithoutCancel(ctx)

	c.expiry.Do(token, func() (any, error) {
		cur, err := c.store.Load(ctx)
		if err != nil || cur == nil || cur.Token != token {
			return nil, nil
		}
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Error("failed to clear expired session", "error", err)
			return nil, err
		}

		metrics.IncSessionExpired()
		c.logger.Info("session expired", "username", cur.Username, "role", cur.Role)

		if c.onExpired != nil {
			c.onExpired(ctx)
		}
		return nil, nil
	})
}

// request performs an authenticated JSON request to the backend API
func (c *Client) request(ctx context.Context, endpoint, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.Fetch(ctx, req)
	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, ErrUnauthenticated):
			status = "unauthenticated"
		case errors.Is(err, ErrSessionExpired):
			status = "401"
		}
		metrics.ObserveBackendRequest(endpoint, status, time.Since(start))
		return err
	}
	defer resp.Body.Close()
	metrics.ObserveBackendRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	return decodeResponse(resp, result)
}

func decodeResponse(resp *http.Response, result any) error {
	if resp.StatusCode >= 300 {
		var errResp ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, &errResp); err != nil || errResp.text() == "" {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.text()}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Login exchanges credentials for a token. It is the only unauthenticated
// call and does not touch the session store.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}

	body := LoginRequest{Password: password}
	if strings.Contains(username, "@") {
		body.Email = username
	} else {
		body.Username = username
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.loginPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveBackendRequest("login", "error", time.Since(start))
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	metrics.ObserveBackendRequest("login", strconv.Itoa(resp.StatusCode), time.Since(start))

	var out LoginResponse
	if err := decodeResponse(resp, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
		}
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("login response carried no token")
	}
	return &out, nil
}

// ListRolePermissions returns the permission set of every role
func (c *Client) ListRolePermissions(ctx context.Context) ([]access.RolePermissionSet, error) {
	var resp []access.RolePermissionSet
	if err := c.request(ctx, "role_permissions", http.MethodGet, "/api/role-permissions", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateRolePermissions replaces the whole permission set of role.
// SuperAdmin is refused before any request is built.
func (c *Client) UpdateRolePermissions(ctx context.Context, role access.Role, perms access.Permissions) (*access.RolePermissionSet, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if role.ReadOnly() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyRole, role)
	}

	var resp access.RolePermissionSet
	path := "/api/role-permissions/" + url.PathEscape(string(role))
	if err := c.request(ctx, "role_permissions_update", http.MethodPut, path, updatePermissionsRequest{Permissions: perms}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAuditLogs returns one page of the audit trail. Login events are always
// excluded; they belong to the login history.
func (c *Client) ListAuditLogs(ctx context.Context, q AuditQuery) (*AuditLogPage, error) {
	params := url.Values{}
	setIfNotEmpty(params, "performedBy", q.PerformedBy)
	setIfNotEmpty(params, "action", q.Action)
	setIfNotEmpty(params, "startDate", q.StartDate)
	setIfNotEmpty(params, "endDate", q.EndDate)
	params.Set("excludeActions", "login")
	setPaging(params, q.Page, q.Limit)

	var resp AuditLogPage
	if err := c.request(ctx, "audit_logs", http.MethodGet, "/api/audit-logs?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListLoginHistory returns one page of login history
func (c *Client) ListLoginHistory(ctx context.Context, q LoginQuery) (*LoginHistoryPage, error) {
	params := url.Values{}
	setIfNotEmpty(params, "userId", q.UserID)
	setIfNotEmpty(params, "startDate", q.StartDate)
	setIfNotEmpty(params, "endDate", q.EndDate)
	setPaging(params, q.Page, q.Limit)

	path := "/api/login-history"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp LoginHistoryPage
	if err := c.request(ctx, "login_history", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAdmins lists all admin users
func (c *Client) ListAdmins(ctx context.Context) ([]AdminSummary, error) {
	var resp []AdminSummary
	if err := c.request(ctx, "admins", http.MethodGet, "/api/admins", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetAdmin gets one admin by id
func (c *Client) GetAdmin(ctx context.Context, id string) (*AdminSummary, error) {
	var resp AdminSummary
	if err := c.request(ctx, "admin", http.MethodGet, "/api/admins/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func setIfNotEmpty(params url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		params.Set(key, value)
	}
}

func setPaging(params url.Values, page, limit int) {
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
}
