// Package hosting is a client for the git-hosting REST surface used by the
// sync engine: repository metadata, refs, the contents API, and the raw
// blob/tree/commit primitives. The wire shapes follow the GitHub v3 API.
package hosting

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIURL is the hosting API endpoint used when none is configured.
const DefaultAPIURL = "https://api.github.com"

// httpTimeout bounds every hosting request.
const httpTimeout = 30 * time.Second

// Client is a git-hosting API client bound to one repository.
type Client struct {
	baseURL    string
	owner      string
	repo       string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the given repository. repository is the
// "owner/name" slug. If baseURL is empty, DefaultAPIURL is used.
func NewClient(baseURL, repository, token string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository slug %q (want owner/name)", repository)
	}

	return &Client{
		baseURL: baseURL,
		owner:   owner,
		repo:    repo,
		token:   token,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}, nil
}

// GetRepository fetches repository metadata, including the default branch.
func (c *Client) GetRepository(ctx context.Context) (Repository, error) {
	var repo Repository
	err := c.do(ctx, http.MethodGet, c.repoPath(""), nil, &repo)
	return repo, err
}

// ListBranches returns the repository's branches.
func (c *Client) ListBranches(ctx context.Context) ([]Branch, error) {
	var branches []Branch
	err := c.do(ctx, http.MethodGet, c.repoPath("/branches"), nil, &branches)
	return branches, err
}

// GetBranch fetches a single branch. Returns ErrNotFound if the branch
// does not exist.
func (c *Client) GetBranch(ctx context.Context, name string) (Branch, error) {
	var branch Branch
	err := c.do(ctx, http.MethodGet, c.repoPath("/branches/"+url.PathEscape(name)), nil, &branch)
	return branch, err
}

// GetRef fetches a git reference. ref is the short form, e.g.
// "heads/verifier".
func (c *Client) GetRef(ctx context.Context, ref string) (Ref, error) {
	var out Ref
	err := c.do(ctx, http.MethodGet, c.repoPath("/git/ref/"+ref), nil, &out)
	return out, err
}

// CreateRef creates a new reference pointing at sha. ref is the full form,
// e.g. "refs/heads/verifier". Returns ErrConflict if the ref already
// exists, which callers racing to create the same branch swallow.
func (c *Client) CreateRef(ctx context.Context, ref, sha string) error {
	body := map[string]string{"ref": ref, "sha": sha}
	return c.do(ctx, http.MethodPost, c.repoPath("/git/refs"), body, nil)
}

// UpdateRef moves a reference to sha, fast-forward only. ref is the short
// form. A refused update (the server rejects non-fast-forward moves when
// force is false) surfaces as ErrConflict.
func (c *Client) UpdateRef(ctx context.Context, ref, sha string) error {
	body := map[string]any{"sha": sha, "force": false}
	return c.do(ctx, http.MethodPatch, c.repoPath("/git/refs/"+ref), body, nil)
}

// GetFile fetches a single file at path on the given ref through the
// contents API and decodes its base64 payload. Returns ErrNotFound when
// the path does not exist on the ref, and an error if the path is a
// directory.
func (c *Client) GetFile(ctx context.Context, path, ref string) (File, error) {
	raw, err := c.getContents(ctx, path, ref)
	if err != nil {
		return File{}, err
	}
	if len(raw) > 0 && raw[0] == '[' {
		return File{}, fmt.Errorf("path %s is a directory on %s", path, ref)
	}

	var wire struct {
		Type     string `json:"type"`
		Path     string `json:"path"`
		SHA      string `json:"sha"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return File{}, fmt.Errorf("failed to parse contents response: %w", err)
	}
	if wire.Type != "file" {
		return File{}, fmt.Errorf("path %s is a %s, not a file", path, wire.Type)
	}

	content, err := decodeContent(wire.Content, wire.Encoding)
	if err != nil {
		return File{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return File{Path: wire.Path, SHA: wire.SHA, Content: content}, nil
}

// ListDir fetches a directory listing at path on the given ref.
func (c *Client) ListDir(ctx context.Context, path, ref string) ([]DirEntry, error) {
	raw, err := c.getContents(ctx, path, ref)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("path %s is not a directory on %s", path, ref)
	}
	var entries []DirEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse directory listing: %w", err)
	}
	return entries, nil
}

// getContents fetches the raw contents API response, which is an object
// for a file and an array for a directory.
func (c *Client) getContents(ctx context.Context, path, ref string) (json.RawMessage, error) {
	p := c.repoPath("/contents/" + escapePath(path))
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, p, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// CreateBlob uploads content and returns the new blob's hash.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (string, error) {
	body := map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, c.repoPath("/git/blobs"), body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// GetBlob fetches a blob's content by hash.
func (c *Client) GetBlob(ctx context.Context, sha string) ([]byte, error) {
	var wire struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/git/blobs/"+sha), nil, &wire); err != nil {
		return nil, err
	}
	return decodeContent(wire.Content, wire.Encoding)
}

// CreateTree creates a tree from entries layered on baseTree and returns
// its hash.
func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	body := map[string]any{
		"base_tree": baseTree,
		"tree":      entries,
	}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, c.repoPath("/git/trees"), body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// GetCommit fetches a commit object by hash.
func (c *Client) GetCommit(ctx context.Context, sha string) (Commit, error) {
	var commit Commit
	err := c.do(ctx, http.MethodGet, c.repoPath("/git/commits/"+sha), nil, &commit)
	return commit, err
}

// CreateCommit creates a commit with a single parent and returns its hash.
func (c *Client) CreateCommit(ctx context.Context, message, tree, parent string) (string, error) {
	body := map[string]any{
		"message": message,
		"tree":    tree,
		"parents": []string{parent},
	}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, c.repoPath("/git/commits"), body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// DeleteFile deletes path on branch. sha must be the file's current blob
// hash, fetched immediately beforehand; the server rejects stale hashes.
func (c *Client) DeleteFile(ctx context.Context, path, message, sha, branch string) error {
	body := map[string]string{
		"message": message,
		"sha":     sha,
		"branch":  branch,
	}
	return c.do(ctx, http.MethodDelete, c.repoPath("/contents/"+escapePath(path)), body, nil)
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.owner, c.repo, suffix)
}

// do performs one JSON request. A non-2xx response becomes a StatusError,
// which unwraps to the package sentinels for the statuses that carry
// meaning here.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token == "" {
		return fmt.Errorf("%w: no token configured", ErrAuth)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hosting request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp.Body)
		return &StatusError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readErrorMessage extracts the "message" field from an error body, if any.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var wire struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &wire) == nil && wire.Message != "" {
		return wire.Message
	}
	return strings.TrimSpace(string(data))
}

// decodeContent decodes a contents/blob payload. The API base64-encodes
// with embedded newlines.
func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		cleaned := strings.ReplaceAll(content, "\n", "")
		return base64.StdEncoding.DecodeString(cleaned)
	case "", "utf-8":
		return []byte(content), nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// escapePath escapes a repository-relative path for use in a contents URL,
// preserving the path separators.
func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
