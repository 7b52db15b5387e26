package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Client defines the host operations the sync service needs.
type Client interface {
	// HostExists checks whether a host with the technical name exists.
	HostExists(ctx context.Context, name string) (bool, error)
	// GetHost returns the host with the technical name, or nil when absent.
	GetHost(ctx context.Context, name string) (*Host, error)
	// CreateHost creates a host and returns its ID.
	CreateHost(ctx context.Context, payload HostPayload) (string, error)
	// UpdateHost replaces the state of an existing host.
	UpdateHost(ctx context.Context, hostID string, payload HostPayload) error
	// DeleteHost removes a host.
	DeleteHost(ctx context.Context, hostID string) error
}

// Option configures an APIClient.
type Option func(*APIClient)

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *APIClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// APIClient talks JSON-RPC 2.0 to the Zabbix API. Authentication uses the
// bearer header, so Zabbix 6.4 or newer is required.
type APIClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu      sync.RWMutex
	token   string
	groupID string

	login singleflight.Group
	seq   atomic.Int64
}

// NewClient creates an API client. Call Connect before using it.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *APIClient {
	timeout := cfg.Timeout()
	c := &APIClient{
		cfg:    cfg,
		logger: logger,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect checks the API is reachable, authenticates and resolves the host
// group new hosts are placed in.
func (c *APIClient) Connect(ctx context.Context) error {
	var version string
	if err := c.do(ctx, "apiinfo.version", []any{}, &version, false); err != nil {
		return fmt.Errorf("failed to reach zabbix api: %w", err)
	}

	if c.cfg.APIToken != "" {
		c.setToken(c.cfg.APIToken)
	} else if err := c.authenticate(ctx); err != nil {
		return err
	}

	groupID, err := c.resolveGroup(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.groupID = groupID
	c.mu.Unlock()

	c.logger.Info("Connected to Zabbix",
		zap.String("version", version),
		zap.String("url", c.cfg.URL),
		zap.String("group_id", groupID))
	return nil
}

// GroupID returns the host group resolved by Connect.
func (c *APIClient) GroupID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groupID
}

func (c *APIClient) HostExists(ctx context.Context, name string) (bool, error) {
	var hosts []wireHost
	params := map[string]any{
		"output": []string{"hostid"},
		"filter": map[string]any{"host": []string{name}},
	}
	if err := c.call(ctx, "host.get", params, &hosts); err != nil {
		return false, err
	}
	return len(hosts) > 0, nil
}

func (c *APIClient) GetHost(ctx context.Context, name string) (*Host, error) {
	var hosts []wireHost
	params := map[string]any{
		"output":                []string{"hostid", "host", "name", "description", "status"},
		"filter":                map[string]any{"host": []string{name}},
		"selectInterfaces":      []string{"interfaceid", "type", "main", "ip", "dns", "port"},
		"selectHostGroups":      []string{"groupid"},
		"selectParentTemplates": []string{"templateid"},
	}
	if err := c.call(ctx, "host.get", params, &hosts); err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, nil
	}
	host := hosts[0].toHost()
	return &host, nil
}

func (c *APIClient) CreateHost(ctx context.Context, payload HostPayload) (string, error) {
	var res struct {
		HostIDs []string `json:"hostids"`
	}
	if err := c.call(ctx, "host.create", hostParams("", payload), &res); err != nil {
		return "", err
	}
	if len(res.HostIDs) == 0 {
		return "", &APIError{Method: "host.create", Message: "no host id returned"}
	}
	return res.HostIDs[0], nil
}

func (c *APIClient) UpdateHost(ctx context.Context, hostID string, payload HostPayload) error {
	return c.call(ctx, "host.update", hostParams(hostID, payload), nil)
}

func (c *APIClient) DeleteHost(ctx context.Context, hostID string) error {
	return c.call(ctx, "host.delete", []string{hostID}, nil)
}

func (c *APIClient) resolveGroup(ctx context.Context) (string, error) {
	var groups []wireGroup
	if c.cfg.HostGroupID != "" {
		params := map[string]any{
			"output":   []string{"groupid", "name"},
			"groupids": []string{c.cfg.HostGroupID},
		}
		if err := c.call(ctx, "hostgroup.get", params, &groups); err != nil {
			return "", fmt.Errorf("failed to verify host group: %w", err)
		}
		if len(groups) > 0 {
			return groups[0].GroupID, nil
		}
		c.logger.Warn("Configured host group not found, falling back to first available group",
			zap.String("group_id", c.cfg.HostGroupID))
	}

	params := map[string]any{
		"output":    []string{"groupid", "name"},
		"sortfield": "groupid",
		"limit":     1,
	}
	if err := c.call(ctx, "hostgroup.get", params, &groups); err != nil {
		return "", fmt.Errorf("failed to list host groups: %w", err)
	}
	if len(groups) == 0 {
		return "", errors.New("no host groups available in zabbix")
	}
	return groups[0].GroupID, nil
}

func (c *APIClient) authenticate(ctx context.Context) error {
	var token string
	params := map[string]string{"username": c.cfg.Username, "password": c.cfg.Password}
	if err := c.do(ctx, "user.login", params, &token, false); err != nil {
		return fmt.Errorf("zabbix login failed: %w", err)
	}
	c.setToken(token)
	return nil
}

// relogin renews the session once for all concurrent callers.
func (c *APIClient) relogin(ctx context.Context) error {
	_, err, _ := c.login.Do("login", func() (any, error) {
		c.logger.Info("Zabbix session expired, logging in again")
		return nil, c.authenticate(ctx)
	})
	return err
}

func (c *APIClient) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *APIClient) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// call performs an authenticated request and renews an expired session once.
func (c *APIClient) call(ctx context.Context, method string, params, out any) error {
	err := c.do(ctx, method, params, out, true)
	if err == nil || !isSessionError(err) {
		return err
	}
	if c.cfg.APIToken != "" {
		return &TransientError{Method: method, Err: err}
	}
	if lerr := c.relogin(ctx); lerr != nil {
		return &TransientError{Method: method, Err: lerr}
	}
	err = c.do(ctx, method, params, out, true)
	if err != nil && isSessionError(err) {
		return &TransientError{Method: method, Err: err}
	}
	return err
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *APIClient) do(ctx context.Context, method string, params, out any, auth bool) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.seq.Add(1)})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	if token := c.currentToken(); auth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("Zabbix API call",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return &TransientError{Method: method, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: method, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return &TransientError{Method: method, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if rr.Error != nil {
		return &APIError{Method: method, Code: rr.Error.Code, Message: rr.Error.Message, Data: rr.Error.Data}
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func isSessionError(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	text := strings.ToLower(ae.Message + " " + ae.Data)
	return strings.Contains(text, "re-login") ||
		strings.Contains(text, "not authorised") ||
		strings.Contains(text, "not authorized") ||
		strings.Contains(text, "session terminated")
}

// Wire representations. Zabbix encodes numbers as strings.

type wireGroup struct {
	GroupID string `json:"groupid"`
	Name    string `json:"name,omitempty"`
}

type wireTemplate struct {
	TemplateID string `json:"templateid"`
}

type wireInterface struct {
	InterfaceID string `json:"interfaceid,omitempty"`
	Type        string `json:"type"`
	Main        string `json:"main"`
	UseIP       string `json:"useip"`
	IP          string `json:"ip"`
	DNS         string `json:"dns"`
	Port        string `json:"port"`
}

type wireHost struct {
	HostID          string          `json:"hostid"`
	Host            string          `json:"host"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Status          string          `json:"status"`
	HostGroups      []wireGroup     `json:"hostgroups"`
	Groups          []wireGroup     `json:"groups"`
	ParentTemplates []wireTemplate  `json:"parentTemplates"`
	Interfaces      []wireInterface `json:"interfaces"`
}

func (w wireHost) toHost() Host {
	status, _ := strconv.Atoi(w.Status)
	h := Host{
		HostID: w.HostID,
		HostPayload: HostPayload{
			Host:        w.Host,
			Name:        w.Name,
			Description: w.Description,
			Status:      status,
		},
	}
	groups := w.HostGroups
	if len(groups) == 0 {
		groups = w.Groups
	}
	for _, g := range groups {
		h.GroupIDs = append(h.GroupIDs, g.GroupID)
	}
	for _, t := range w.ParentTemplates {
		h.TemplateIDs = append(h.TemplateIDs, t.TemplateID)
	}
	for _, i := range w.Interfaces {
		typ, _ := strconv.Atoi(i.Type)
		h.Interfaces = append(h.Interfaces, HostInterface{
			InterfaceID: i.InterfaceID,
			Type:        typ,
			Main:        i.Main == "1",
			IP:          i.IP,
			Port:        i.Port,
			NodeID:      ParseNodeDNS(i.DNS),
		})
	}
	return h
}

func hostParams(hostID string, p HostPayload) map[string]any {
	groups := make([]wireGroup, 0, len(p.GroupIDs))
	for _, id := range p.GroupIDs {
		groups = append(groups, wireGroup{GroupID: id})
	}
	templates := make([]wireTemplate, 0, len(p.TemplateIDs))
	for _, id := range p.TemplateIDs {
		templates = append(templates, wireTemplate{TemplateID: id})
	}
	interfaces := make([]wireInterface, 0, len(p.Interfaces))
	for _, i := range p.Interfaces {
		main := "0"
		if i.Main {
			main = "1"
		}
		interfaces = append(interfaces, wireInterface{
			InterfaceID: i.InterfaceID,
			Type:        strconv.Itoa(i.Type),
			Main:        main,
			UseIP:       "1",
			IP:          i.IP,
			DNS:         NodeDNS(i.NodeID),
			Port:        i.Port,
		})
	}

	params := map[string]any{
		"host":        p.Host,
		"name":        p.Name,
		"description": p.Description,
		"status":      strconv.Itoa(p.Status),
		"groups":      groups,
		"templates":   templates,
		"interfaces":  interfaces,
	}
	if hostID != "" {
		params["hostid"] = hostID
	}
	return params
}
