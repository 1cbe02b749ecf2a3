package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/internal/model"
)

// GitHubProvider talks to the GitHub REST API for metadata and shells
// out to git for working copies.
type GitHubProvider struct {
	apiBase      string
	httpClient   *http.Client
	cloneTimeout time.Duration
	cloneRetries int
}

func NewGitHubProvider(cfg *config.Config) *GitHubProvider {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	if cfg.GitHub.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHub.Token})
		httpClient = oauth2.NewClient(context.Background(), src)
		httpClient.Timeout = 15 * time.Second
	}

	return &GitHubProvider{
		apiBase:      strings.TrimSuffix(cfg.GitHub.APIBaseURL, "/"),
		httpClient:   httpClient,
		cloneTimeout: time.Duration(cfg.Analysis.CloneTimeoutSeconds) * time.Second,
		cloneRetries: cfg.Analysis.CloneMaxRetries,
	}
}

// Validate checks the reference shape and extracts owner/repo.
func (p *GitHubProvider) Validate(_ context.Context, repoURL string) (*RepoRef, error) {
	if repoURL == "" {
		return nil, &Error{UserMessage: "repository URL must not be empty"}
	}

	if strings.HasPrefix(repoURL, "git@") {
		// git@github.com:owner/repo.git
		_, path, ok := strings.Cut(repoURL, ":")
		if !ok {
			return nil, &Error{UserMessage: "repository URL is malformed"}
		}
		return refFromPath(path)
	}

	if !strings.HasPrefix(repoURL, "https://") {
		return nil, &Error{UserMessage: "repository URL must start with https:// or git@"}
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return nil, &Error{UserMessage: "repository URL is malformed", RawError: err}
	}
	if u.Host == "" {
		return nil, &Error{UserMessage: "repository URL is missing a host"}
	}

	return refFromPath(u.Path)
}

func refFromPath(path string) (*RepoRef, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, &Error{UserMessage: "repository URL must include owner and repository name"}
	}
	return &RepoRef{
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}, nil
}

type githubRepo struct {
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description"`
	DefaultBranch string   `json:"default_branch"`
	Language      string   `json:"language"`
	Stars         int      `json:"stargazers_count"`
	Forks         int      `json:"forks_count"`
	OpenIssues    int      `json:"open_issues_count"`
	Size          int64    `json:"size"`
	Topics        []string `json:"topics"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// GetMetadata fetches repository facts from the REST API.
func (p *GitHubProvider) GetMetadata(ctx context.Context, ref *RepoRef) (*model.RepoMetadata, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", p.apiBase, ref.Owner, ref.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &Error{
			UserMessage: "could not reach the hosting platform, please retry later",
			RawError:    err,
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &Error{
			UserMessage: "repository not found or not accessible",
			RawError:    fmt.Errorf("metadata request returned %d", resp.StatusCode),
		}
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, &Error{
			UserMessage: "repository access denied, make sure it is public",
			RawError:    fmt.Errorf("metadata request returned %d", resp.StatusCode),
		}
	default:
		return nil, &Error{
			UserMessage: "hosting platform returned an unexpected error",
			RawError:    fmt.Errorf("metadata request returned %d", resp.StatusCode),
		}
	}

	var gr githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}

	return &model.RepoMetadata{
		Owner:         gr.Owner.Login,
		Name:          gr.Name,
		FullName:      gr.FullName,
		Description:   gr.Description,
		DefaultBranch: gr.DefaultBranch,
		Language:      gr.Language,
		Stars:         gr.Stars,
		Forks:         gr.Forks,
		OpenIssues:    gr.OpenIssues,
		SizeKB:        gr.Size,
		Topics:        gr.Topics,
	}, nil
}

// Materialize shallow-clones the repository into dest, retrying
// transient failures with exponential backoff.
func (p *GitHubProvider) Materialize(ctx context.Context, repoURL, dest string) error {
	var lastErr *Error
	for attempt := 0; attempt <= p.cloneRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			log.Printf("Clone retry %d/%d after %v for %s", attempt, p.cloneRetries, backoff, repoURL)
			select {
			case <-ctx.Done():
				return &Error{
					UserMessage: "clone timed out, the repository may be too large",
					RawError:    ctx.Err(),
				}
			case <-time.After(backoff):
			}
		}

		lastErr = p.cloneOnce(ctx, repoURL, dest)
		if lastErr == nil {
			return nil
		}

		log.Printf("Clone attempt %d failed: %v", attempt+1, lastErr.RawError)

		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p *GitHubProvider) cloneOnce(ctx context.Context, repoURL, dest string) *Error {
	// A retry may leave a partial clone behind.
	if _, err := os.Stat(dest); err == nil {
		entries, _ := os.ReadDir(dest)
		for _, entry := range entries {
			os.RemoveAll(filepath.Join(dest, entry.Name()))
		}
	}

	cloneCtx, cancel := context.WithTimeout(ctx, p.cloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", repoURL, dest)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return classifyCloneError(string(output), err)
	}
	return nil
}

// classifyCloneError maps git output onto user-facing messages, keeping
// the raw output for logs only.
func classifyCloneError(output string, err error) *Error {
	lower := strings.ToLower(output + " " + err.Error())

	switch {
	case strings.Contains(lower, "repository not found") ||
		strings.Contains(lower, "not found"):
		return &Error{
			UserMessage: "repository not found or not accessible",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	case strings.Contains(lower, "could not resolve host") ||
		strings.Contains(lower, "unable to access"):
		return &Error{
			UserMessage: "could not reach the hosting platform, please retry later",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	case strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "permission denied"):
		return &Error{
			UserMessage: "repository access denied, make sure it is public",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timed out"):
		return &Error{
			UserMessage: "clone timed out, the repository may be too large",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	case strings.Contains(lower, "empty repository"):
		return &Error{
			UserMessage: "repository is empty",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	default:
		return &Error{
			UserMessage: "failed to clone repository, check the URL and retry",
			RawError:    fmt.Errorf("%w, output: %s", err, output),
		}
	}
}

// isTransient reports whether a clone failure is worth retrying.
func isTransient(e *Error) bool {
	nonTransient := []string{
		"repository not found",
		"repository access denied",
		"repository is empty",
	}
	for _, s := range nonTransient {
		if strings.Contains(e.UserMessage, s) {
			return false
		}
	}
	return true
}
