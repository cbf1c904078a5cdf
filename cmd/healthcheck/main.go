// Command healthcheck reports whether the local bot service is healthy, for container health checks.
//
// By default it checks liveness on /healthz. With -ready it checks /readyz,
// which fails while Postgres or Redis is unreachable.
//
// Environment Variables:
//
//	HEALTHCHECK_URL: base URL of the service (default http://localhost:8080)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

func main() {
	ready := flag.Bool("ready", false, "Check /readyz (dependencies reachable) instead of /healthz")
	timeout := flag.Duration("timeout", 3*time.Second, "Request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := check(ctx, &http.Client{Timeout: *timeout}, endpoint(os.Getenv("HEALTHCHECK_URL"), *ready)); err != nil {
		slog.Error("health check failed", slog.Any("err", err))
		cancel()
		os.Exit(1)
	}
}

func endpoint(base string, ready bool) string {
	if base == "" {
		base = defaultBaseURL
	}
	path := "/healthz"
	if ready {
		path = "/readyz"
	}
	return strings.TrimSuffix(base, "/") + path
}

func check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return nil
}
