package infra

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/entity"
)

// SourceProvider talks to the GitHub REST API. It resolves the current commit
// of a repository and unpacks a tarball of an exact commit into a directory.
type SourceProvider struct {
	APIURL       string
	Token        string
	MaxBytes     int64
	MaxFiles     int
	FetchTimeout time.Duration
	// APITimeout bounds each metadata call. Tarball downloads are bounded by
	// FetchTimeout only.
	APITimeout time.Duration
	httpClient *http.Client
}

const defaultAPITimeout = 30 * time.Second

func InitSourceProvider(cfg *config.EnvConfig) *SourceProvider {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = defaultAPITimeout

	return &SourceProvider{
		APIURL:       cfg.Source.APIURL,
		Token:        cfg.Source.Token,
		MaxBytes:     cfg.Source.MaxBytes,
		MaxFiles:     cfg.Source.MaxFiles,
		FetchTimeout: cfg.Source.FetchTimeout,
		APITimeout:   defaultAPITimeout,
		// No client-wide Timeout: it would also cut off the tarball body.
		httpClient: &http.Client{Transport: transport},
	}
}

type repositoryResponse struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

type commitResponse struct {
	SHA string `json:"sha"`
}

// ResolveVersion returns the head commit SHA of the default branch.
func (p *SourceProvider) ResolveVersion(ctx context.Context, owner, name string) (string, error) {
	repoPath := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))

	var repo repositoryResponse
	if err := p.getJSON(ctx, repoPath, owner+"/"+name, &repo); err != nil {
		return "", err
	}
	if repo.Private {
		return "", apperror.Inaccessible(fmt.Sprintf("repository %s/%s is private", owner, name))
	}

	var commit commitResponse
	commitPath := fmt.Sprintf("%s/commits/%s", repoPath, url.PathEscape(repo.DefaultBranch))
	if err := p.getJSON(ctx, commitPath, owner+"/"+name, &commit); err != nil {
		return "", err
	}
	if commit.SHA == "" {
		return "", apperror.Malformed("source host", fmt.Errorf("empty commit sha for %s/%s", owner, name))
	}
	return commit.SHA, nil
}

// Fetch downloads the tarball of version and unpacks it under dir.
func (p *SourceProvider) Fetch(ctx context.Context, repo entity.RepositoryRef, version, dir string) (*entity.SourceSnapshot, error) {
	if p.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.FetchTimeout)
		defer cancel()
	}

	tarballPath := fmt.Sprintf("/repos/%s/%s/tarball/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(version))
	resp, err := p.do(ctx, tarballPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyResponse(resp, repo.String()); err != nil {
		return nil, err
	}
	if p.MaxBytes > 0 && resp.ContentLength > p.MaxBytes {
		return nil, apperror.TooLarge(fmt.Sprintf("repository %s archive", repo), p.MaxBytes, resp.ContentLength)
	}

	snapshot := &entity.SourceSnapshot{Repository: repo, Version: version, Dir: dir}
	if err := p.unpack(ctx, resp.Body, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (p *SourceProvider) unpack(ctx context.Context, body io.Reader, snapshot *entity.SourceSnapshot) error {
	gz, err := gzip.NewReader(body)
	if err != nil {
		return wrapTransport(ctx, fmt.Errorf("failed to open archive: %w", err))
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapTransport(ctx, fmt.Errorf("failed to read archive: %w", err))
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		rel := stripArchiveRoot(header.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(snapshot.Dir, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(snapshot.Dir)+string(os.PathSeparator)) {
			continue
		}

		snapshot.Files++
		if p.MaxFiles > 0 && snapshot.Files > p.MaxFiles {
			return apperror.TooManyItems(fmt.Sprintf("repository %s", snapshot.Repository), int64(p.MaxFiles), int64(snapshot.Files))
		}

		written, err := writeArchiveFile(target, tr, p.remaining(snapshot.Bytes))
		snapshot.Bytes += written
		if p.MaxBytes > 0 && snapshot.Bytes > p.MaxBytes {
			return apperror.TooLarge(fmt.Sprintf("repository %s", snapshot.Repository), p.MaxBytes, snapshot.Bytes)
		}
		if err != nil {
			return wrapTransport(ctx, err)
		}
	}
}

func (p *SourceProvider) remaining(used int64) int64 {
	if p.MaxBytes <= 0 {
		return -1
	}
	return p.MaxBytes - used + 1
}

func writeArchiveFile(target string, r io.Reader, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if limit >= 0 {
		r = io.LimitReader(r, limit)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		return n, fmt.Errorf("failed to write file: %w", err)
	}
	return n, nil
}

// stripArchiveRoot drops the "<owner>-<name>-<sha>/" prefix GitHub adds.
func stripArchiveRoot(name string) string {
	name = strings.TrimPrefix(name, "./")
	if idx := strings.Index(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = path.Clean(name)
	if name == "." || name == ".." || strings.HasPrefix(name, "../") || path.IsAbs(name) {
		return ""
	}
	return name
}

func (p *SourceProvider) getJSON(ctx context.Context, path, subject string, dest interface{}) error {
	if p.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.APITimeout)
		defer cancel()
	}
	resp, err := p.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := classifyResponse(resp, subject); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apperror.Malformed("source host", err)
	}
	return nil
}

func (p *SourceProvider) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.APIURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapTransport(ctx, fmt.Errorf("request to source host failed: %w", err))
	}
	return resp, nil
}

func classifyResponse(resp *http.Response, subject string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperror.NotFound(fmt.Sprintf("repository %s", subject))
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return apperror.RateLimited(retryAfter(resp.Header), fmt.Errorf("source host returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return apperror.Inaccessible(fmt.Sprintf("repository %s", subject))
	default:
		return apperror.Unavailable(fmt.Errorf("source host returned %d", resp.StatusCode))
	}
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 {
				return d.Round(time.Second)
			}
		}
	}
	return 0
}

func wrapTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.Timeout(err)
	}
	return apperror.Unavailable(err)
}
