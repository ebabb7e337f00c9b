// Package browser selects the page-fetch strategy for episode pages. Some
// hosts serve a bot-check shell to plain HTTP clients, so a headless browser
// render is preferred when one is installed; a plain HTTP fetch is always
// available as the last fallback.
package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/hianidl/hianidl/internal/utils"
)

// Driver fetches the rendered HTML of a page.
type Driver interface {
	Name() string
	Fetch(ctx context.Context, pageURL, referer string) ([]byte, error)
}

var lookPath = exec.LookPath

// binaryCandidates returns browser binary names in preference order for the
// current architecture. The multi-arch container image ships chromium on
// arm64; amd64 hosts more commonly have google-chrome installed.
func binaryCandidates(goarch string) []string {
	if goarch == "arm64" {
		return []string{"chromium", "chromium-browser", "google-chrome"}
	}
	return []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}
}

// Select probes for installed browsers and returns the drivers to try in
// order. The plain HTTP driver is always last, so selection never fails.
func Select(cfg utils.HTTPClientConfig) []Driver {
	var drivers []Driver
	for _, name := range binaryCandidates(runtime.GOARCH) {
		if path, err := lookPath(name); err == nil {
			drivers = append(drivers, &headlessDriver{binary: name, path: path, userAgent: cfg.UserAgent})
			break
		}
	}
	drivers = append(drivers, &plainDriver{cfg: cfg})
	return drivers
}

// Fetch tries each driver in order and returns the first successful render.
func Fetch(ctx context.Context, drivers []Driver, pageURL, referer string) ([]byte, string, error) {
	var lastErr error
	for _, d := range drivers {
		body, err := d.Fetch(ctx, pageURL, referer)
		if err != nil {
			lastErr = err
			continue
		}
		return body, d.Name(), nil
	}
	return nil, "", fmt.Errorf("all fetch drivers failed: %v", lastErr)
}

type headlessDriver struct {
	binary    string
	path      string
	userAgent string
}

func (d *headlessDriver) Name() string {
	return d.binary
}

func (d *headlessDriver) Fetch(ctx context.Context, pageURL, referer string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	args := []string{
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--hide-scrollbars",
		"--virtual-time-budget=10000",
		"--dump-dom",
	}
	if d.userAgent != "" {
		args = append(args, fmt.Sprintf("--user-agent=%s", d.userAgent))
	}
	args = append(args, pageURL)
	cmd := exec.CommandContext(ctx, d.path, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s render failed: %v", d.binary, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned empty document", d.binary)
	}
	return out, nil
}

type plainDriver struct {
	cfg utils.HTTPClientConfig
}

func (d *plainDriver) Name() string {
	return "http"
}

func (d *plainDriver) Fetch(ctx context.Context, pageURL, referer string) ([]byte, error) {
	client := utils.NewHiAniHTTPClient(d.cfg)
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
