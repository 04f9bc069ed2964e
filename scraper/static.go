package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticRenderer fetches server-rendered markup over plain HTTP with colly.
// No script runs, so readySelector is not awaited.
type StaticRenderer struct {
	userAgent string
	transport http.RoundTripper
}

// NewStaticRenderer builds a renderer sending userAgent.
func NewStaticRenderer(userAgent string) *StaticRenderer {
	return &StaticRenderer{userAgent: userAgent}
}

// Render implements Renderer.
func (r *StaticRenderer) Render(ctx context.Context, target, _ string, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(r.userAgent),
	)
	collector.SetRequestTimeout(timeout)
	if r.transport != nil {
		collector.WithTransport(r.transport)
	} else {
		collector.WithTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	var (
		body     string
		fetchErr error
	)
	collector.OnResponse(func(resp *colly.Response) {
		body = string(resp.Body)
	})
	collector.OnError(func(resp *colly.Response, err error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fetchErr = classifyError(err, status)
	})

	if err := collector.Visit(target); err != nil && fetchErr == nil {
		fetchErr = classifyError(err, 0)
	}
	collector.Wait()

	if fetchErr != nil {
		return "", fetchErr
	}
	return body, nil
}
