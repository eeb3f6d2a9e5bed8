// Package github is a thin client for the repository host: metadata lookup,
// commit resolution, and the opaque archive byte-fetch the pipeline
// consumes.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"codequiz/internal/config"
)

// RepoMetadata describes a repository as reported by the host.
type RepoMetadata struct {
	Owner         string
	Name          string
	DefaultBranch string
	IsPersonal    bool
	OwnerID       string
	OwnerLogin    string
}

// Client talks to the GitHub REST API.
type Client struct {
	base    string
	token   string
	httpCli *http.Client
}

// NewClient creates a client. token may be empty for public repositories.
func NewClient(cfg config.GitHub, token string) *Client {
	return &Client{
		base:    strings.TrimRight(cfg.APIBase, "/"),
		token:   token,
		httpCli: &http.Client{Timeout: cfg.Timeout()},
	}
}

// ParseRepoURL extracts owner and name from an https github.com URL.
func ParseRepoURL(repoURL string) (owner, name string, err error) {
	parsed, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("parse repo url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("repo url must start with http or https")
	}
	if !strings.EqualFold(parsed.Host, "github.com") {
		return "", "", fmt.Errorf("repo url must be hosted on github.com")
	}
	parts := strings.FieldsFunc(parsed.Path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return "", "", fmt.Errorf("repo url must include owner and repo name")
	}
	owner, name = parts[0], strings.TrimSuffix(parts[1], ".git")
	return owner, name, nil
}

// VerifyRepo fetches repository metadata for a repo URL.
func (c *Client) VerifyRepo(ctx context.Context, repoURL string) (RepoMetadata, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return RepoMetadata{}, err
	}
	var payload struct {
		DefaultBranch string `json:"default_branch"`
		Owner         struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"owner"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s", owner, name), &payload); err != nil {
		return RepoMetadata{}, err
	}
	return RepoMetadata{
		Owner:         owner,
		Name:          name,
		DefaultBranch: payload.DefaultBranch,
		IsPersonal:    payload.Owner.Type == "User",
		OwnerID:       fmt.Sprintf("%d", payload.Owner.ID),
		OwnerLogin:    payload.Owner.Login,
	}, nil
}

// CommitSHA resolves a ref to a commit sha.
func (c *Client) CommitSHA(ctx context.Context, owner, name, ref string) (string, error) {
	var payload struct {
		SHA string `json:"sha"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/commits/%s", owner, name, ref), &payload); err != nil {
		return "", err
	}
	if payload.SHA == "" {
		return "", fmt.Errorf("missing commit sha in response")
	}
	return payload.SHA, nil
}

// DownloadArchive fetches the repository zipball at a ref as raw bytes.
func (c *Client) DownloadArchive(ctx context.Context, owner, name, ref string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/zipball/%s", c.base, owner, name, ref)
	req, err := c.newRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive error %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, c.base+path)
	if err != nil {
		return err
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}
