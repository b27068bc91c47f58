// Package testrail bridges run results into a TestRail instance. The bridge
// is strictly one-way: reporting failures are counted and logged, never
// allowed to alter a scenario verdict or abort the run.
package testrail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
)

// TestRail result status IDs.
const (
	statusPassed = 1
	statusFailed = 5
)

// Client is a thin, rate-limited wrapper around the TestRail v2 API. All
// endpoints hang off index.php?/api/v2/.
type Client struct {
	baseURL string
	auth    string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a client from the reporting configuration.
func NewClient(cfg config.TestRailConfig, logger *zap.Logger) *Client {
	creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.APIKey))
	return &Client{
		baseURL: cfg.URL,
		auth:    "Basic " + creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named("testrail_client"),
	}
}

// Run is a TestRail test run.
type Run struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Section is a TestRail suite section.
type Section struct {
	ID       int    `json:"id"`
	SuiteID  int    `json:"suite_id"`
	ParentID *int   `json:"parent_id"`
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
}

// Result is one posted case result.
type Result struct {
	StatusID int    `json:"status_id"`
	Comment  string `json:"comment,omitempty"`
	Elapsed  string `json:"elapsed,omitempty"`
}

type addRunRequest struct {
	SuiteID     int    `json:"suite_id"`
	Name        string `json:"name"`
	IncludeAll  bool   `json:"include_all"`
	Description string `json:"description,omitempty"`
}

// AddRun creates a run covering the whole suite.
func (c *Client) AddRun(ctx context.Context, projectID, suiteID int, name string) (*Run, error) {
	var run Run
	body := addRunRequest{SuiteID: suiteID, Name: name, IncludeAll: true}
	if err := c.do(ctx, "add_run", fmt.Sprintf("add_run/%d", projectID), body, &run, false); err != nil {
		return nil, err
	}
	return &run, nil
}

// AddResultForCase posts one result into an open run. Transient rejections
// (429 and 5xx) get a single retry; results are the one call worth it.
func (c *Client) AddResultForCase(ctx context.Context, runID, caseID int, res Result) error {
	path := fmt.Sprintf("add_result_for_case/%d/%d", runID, caseID)
	return c.do(ctx, "add_result_for_case", path, res, nil, true)
}

// DeleteCase permanently removes a case from the suite.
func (c *Client) DeleteCase(ctx context.Context, caseID int) error {
	path := fmt.Sprintf("delete_case/%d", caseID)
	return c.do(ctx, "delete_case", path, struct{}{}, nil, false)
}

type sectionsResponse struct {
	Sections []Section `json:"sections"`
}

// GetSections lists the sections of a suite.
func (c *Client) GetSections(ctx context.Context, projectID, suiteID int) ([]Section, error) {
	path := fmt.Sprintf("get_sections/%d&suite_id=%d", projectID, suiteID)
	var resp sectionsResponse
	if err := c.get(ctx, "get_sections", path, &resp); err != nil {
		return nil, err
	}
	return resp.Sections, nil
}

// do executes a POST call with a JSON body, optionally retrying once on a
// transient status.
func (c *Client) do(ctx context.Context, op, path string, body, out any, retryTransient bool) error {
	err := c.once(ctx, op, http.MethodPost, path, body, out)
	if err == nil || !retryTransient || !isTransient(err) {
		return err
	}

	c.logger.Warn("Transient API rejection, retrying once.",
		zap.String("op", op), zap.Error(err))
	select {
	case <-ctx.Done():
		return &schemas.ReportingError{Op: op, Err: ctx.Err()}
	case <-time.After(time.Second):
	}
	return c.once(ctx, op, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	return c.once(ctx, op, http.MethodGet, path, nil, out)
}

func (c *Client) once(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &schemas.ReportingError{Op: op, Err: err}
	}

	var reader io.Reader
	if method == http.MethodPost {
		payload, err := json.Marshal(body)
		if err != nil {
			return &schemas.ReportingError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + "/index.php?/api/v2/" + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &schemas.ReportingError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &schemas.ReportingError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &schemas.ReportingError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server said: %s", bytes.TrimSpace(detail)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &schemas.ReportingError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func isTransient(err error) bool {
	re, ok := err.(*schemas.ReportingError)
	if !ok {
		return false
	}
	return re.StatusCode == http.StatusTooManyRequests || re.StatusCode >= 500
}
