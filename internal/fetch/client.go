package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client retrieves packages into directories on the local filesystem.
type Client struct {
	HTTP *http.Client
	// Root is the directory copy fetchers are relative to, normally the
	// directory holding the manifest.
	Root string
	// Concurrency bounds FetchAll. Values below 1 mean one at a time.
	Concurrency int
}

// NewClient creates a Client with a default HTTP client.
func NewClient(root string, concurrency int) *Client {
	return &Client{
		HTTP:        &http.Client{Timeout: 5 * time.Minute},
		Root:        root,
		Concurrency: concurrency,
	}
}

// Job is one fetch into Dest.
type Job struct {
	Name    string
	Fetcher Fetcher
	Dest    string
}

// Fetch retrieves f and unpacks it into dest, creating dest if needed.
func (c *Client) Fetch(ctx context.Context, f Fetcher, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	switch f.Kind {
	case KindURL, KindTarball:
		return c.fetchArchive(ctx, f.URL, f.Hash, dest)
	case KindGitHub:
		return c.fetchArchive(ctx, f.GitHubArchiveURL(), f.Hash, dest)
	case KindGit:
		return c.fetchGit(ctx, f, dest)
	case KindCopy:
		src := f.Path
		if !filepath.IsAbs(src) {
			src = filepath.Join(c.Root, src)
		}
		slog.Debug("copying package", "src", src, "dest", dest)
		return CopyDir(src, dest, "node_modules", ".git")
	default:
		return fmt.Errorf("unsupported fetcher kind %q", f.Kind)
	}
}

// FetchAll runs every job, at most Concurrency at a time. The first error
// cancels the remaining jobs.
func (c *Client) FetchAll(ctx context.Context, jobs []Job) error {
	limit := c.Concurrency
	if limit < 1 {
		limit = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			slog.Debug("fetching package", "name", job.Name, "source", job.Fetcher.String())
			if err := c.Fetch(ctx, job.Fetcher, job.Dest); err != nil {
				return fmt.Errorf("fetching %s: %w", job.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) fetchArchive(ctx context.Context, url, hash, dest string) error {
	data, err := c.download(ctx, url)
	if err != nil {
		return err
	}
	if err := VerifyIntegrity(data, hash); err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	if err := ExtractTarGz(bytes.NewReader(data), dest); err != nil {
		return fmt.Errorf("extracting %s: %w", url, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}
