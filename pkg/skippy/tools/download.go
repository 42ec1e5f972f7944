// download.go implements the file download tool: HTTP GET to disk.
package tools

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// maxDownload caps a single download.
const maxDownload = 100 << 20 // 100MB

// DownloadTool fetches a URL to a local file.
type DownloadTool struct {
	client *http.Client
}

// NewDownloadTool creates the download tool.
func NewDownloadTool() *DownloadTool {
	return &DownloadTool{client: &http.Client{Timeout: 5 * time.Minute}}
}

func (t *DownloadTool) Name() string { return "download" }
func (t *DownloadTool) Init() error  { return nil }

func (t *DownloadTool) KnownArgs() []string {
	return []string{"url", "filepath", "path"}
}

func (t *DownloadTool) Run(ctx context.Context, args map[string]any) Result {
	if fail := requireArgs(args, "url"); fail != nil {
		return fail
	}
	rawURL := strArg(args, "url")
	dest := pathArg(args)
	if dest == "" {
		return Errorf("missing required parameter %q", "filepath")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Errorf("invalid URL: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Skippy/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("download failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Errorf("creating parent dir: %v", err)
	}

	// Write through a temp file so an aborted download leaves no
	// truncated destination.
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return Errorf("creating %s: %v", tmp, err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxDownload))
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return Errorf("writing %s: %v", dest, err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return Errorf("closing %s: %v", dest, closeErr)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return Errorf("moving into place: %v", err)
	}

	return OK(map[string]any{
		"url":      rawURL,
		"filepath": dest,
		"size":     n,
	})
}

func (t *DownloadTool) Context() string {
	return `Download a URL to disk. {url: string, filepath: string}
→ {success, filepath, size}`
}
