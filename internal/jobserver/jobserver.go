// Package jobserver is a client for the verification job server: job
// submission, status polling, best-effort cancellation, and the
// synchronous single-file formatter/linter endpoints.
package jobserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpTimeout bounds every job-server request. Polls are small and a hung
// poll would stall the whole cadence.
const httpTimeout = 30 * time.Second

// Client is a job-server API client.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the given endpoint base URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// SubmitRequest is the body for job submission.
type SubmitRequest struct {
	Command       string `json:"command"`
	TargetPath    string `json:"targetPath"`
	RepositoryRef string `json:"repositoryRef"`
}

// PositionalError is one positional diagnostic from the server. Line and
// column are 1-indexed on the wire.
type PositionalError struct {
	Line    int    `json:"errorLine"`
	Column  int    `json:"errorColumn"`
	Message string `json:"errorMessage"`
}

// Snapshot is one poll response. The server reports two stages: makeenv
// (environment preparation) and the verifier run itself, each with its own
// finish/success flags. Phases and percent describe the verifier stage.
type Snapshot struct {
	QueueNum        int               `json:"queueNum"`
	MakeenvFinish   bool              `json:"isMakeenvFinish"`
	MakeenvSuccess  bool              `json:"isMakeenvSuccess"`
	MakeenvText     string            `json:"makeenvText"`
	Phases          []string          `json:"progressPhases"`
	Percent         float64           `json:"progressPercent"`
	ErrorCount      int               `json:"numOfErrors"`
	Errors          []PositionalError `json:"errorList"`
	VerifierFinish  bool              `json:"isVerifierFinish"`
	VerifierSuccess bool              `json:"isVerifierSuccess"`
}

// CurrentPhase returns the most recently reported phase name, or "".
func (s Snapshot) CurrentPhase() string {
	if len(s.Phases) == 0 {
		return ""
	}
	return s.Phases[len(s.Phases)-1]
}

// Submit submits a job and returns its server-assigned ID.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/submit", req, &out); err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("job server returned an empty job id")
	}
	return out.ID, nil
}

// Status fetches the current snapshot for a job.
func (c *Client) Status(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to poll job %s: %w", id, err)
	}
	return snap, nil
}

// Cancel asks the server to abandon a job. Best-effort: the server may
// finish the job anyway, and callers must not wait on the outcome.
func (c *Client) Cancel(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	return nil
}

// oneshotResponse is the reply of the synchronous endpoints: a transformed
// body for the formatter, an error list for the linter.
type oneshotResponse struct {
	Body      string            `json:"body"`
	ErrorList []PositionalError `json:"errorList"`
}

// Format sends a single file body through the synchronous formatter and
// returns the transformed body. No polling is involved.
func (c *Client) Format(ctx context.Context, fileName string, body []byte) ([]byte, error) {
	var out oneshotResponse
	req := map[string]string{"fileName": fileName, "body": string(body)}
	if err := c.do(ctx, http.MethodPost, "/oneshot/format", req, &out); err != nil {
		return nil, fmt.Errorf("format request failed: %w", err)
	}
	if len(out.ErrorList) > 0 {
		return nil, fmt.Errorf("formatter rejected %s: %s", fileName, out.ErrorList[0].Message)
	}
	return []byte(out.Body), nil
}

// Lint sends a single file body through the synchronous linter and returns
// its positional errors. An empty list means a clean pass.
func (c *Client) Lint(ctx context.Context, fileName string, body []byte) ([]PositionalError, error) {
	var out oneshotResponse
	req := map[string]string{"fileName": fileName, "body": string(body)}
	if err := c.do(ctx, http.MethodPost, "/oneshot/lint", req, &out); err != nil {
		return nil, fmt.Errorf("lint request failed: %w", err)
	}
	return out.ErrorList, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("job server request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("job server error: %d %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
