package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "punchd/pkg/logx"
)

func init() {
	Register("httpportal", newHTTPPortal)
}

// httpPortal punches through the portal's JSON API. It deliberately
// knows nothing about the portal's HTML; DOM automation lives outside
// this process.
type httpPortal struct {
	base string
	hc   *http.Client
	log  logx.Logger
}

func newHTTPPortal(cfg Config, log logx.Logger) (Provider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("httpportal: base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpPortal{
		base: base,
		hc:   &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

type punchRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type punchResponse struct {
	Success bool   `json:"success"`
	Time    string `json:"time,omitempty"`
	Message string `json:"message,omitempty"`
}

func (p *httpPortal) Login(ctx context.Context, creds Credentials) (PunchResult, error) {
	return p.punch(ctx, "/api/punch/in", creds)
}

func (p *httpPortal) Logout(ctx context.Context, creds Credentials) (PunchResult, error) {
	return p.punch(ctx, "/api/punch/out", creds)
}

func (p *httpPortal) punch(ctx context.Context, path string, creds Credentials) (PunchResult, error) {
	body, err := json.Marshal(punchRequest{UserID: creds.UserID, Password: creds.Password})
	if err != nil {
		return PunchResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return PunchResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.hc.Do(req)
	if err != nil {
		return PunchResult{Success: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PunchResult{Success: false, Message: err.Error()}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PunchResult{Success: false, Message: fmt.Sprintf("portal returned %d", resp.StatusCode)}, nil
	}

	var pr punchResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return PunchResult{Success: false, Message: "unparsable portal response"}, nil
	}
	return PunchResult{Success: pr.Success, ActualTime: pr.Time, Message: pr.Message}, nil
}

func (p *httpPortal) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		p.log.Debug("portal health check failed", logx.Err(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}
