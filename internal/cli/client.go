package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Paintersrp/outrider/internal/api"
	"github.com/Paintersrp/outrider/internal/config"
)

// controlClient talks to a running supervisor's control API.
type controlClient struct {
	baseURL string
	http    *http.Client
}

func newControlClient(addr string) *controlClient {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = config.DefaultControlAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &controlClient{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *controlClient) Port(ctx stdcontext.Context) (*api.PortReport, error) {
	var report api.PortReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/port", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *controlClient) Kill(ctx stdcontext.Context) (*api.KillReport, error) {
	var report api.KillReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/kill", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *controlClient) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	var report api.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("control API returned status %d", e.Status)
}

// Unwrap maps well-known error codes back onto the API sentinels so callers
// can branch with errors.Is across the HTTP boundary.
func (e *apiError) Unwrap() error {
	switch e.Code {
	case "not_ready":
		return api.ErrNotReady
	case "not_running":
		return api.ErrNotRunning
	default:
		return nil
	}
}

func (c *controlClient) do(ctx stdcontext.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact control API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read control API response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode control API response: %w", err)
	}
	return nil
}

// resolveControlAddr prefers an explicit flag, then the manifest, then the
// compiled-in default. A missing manifest is not an error for client commands.
func resolveControlAddr(ctx *context, flagAddr string) string {
	if strings.TrimSpace(flagAddr) != "" {
		return flagAddr
	}
	manifest, err := ctx.loadManifest()
	if err == nil && manifest.Control.Addr != "" {
		return manifest.Control.Addr
	}
	return config.DefaultControlAddr
}
