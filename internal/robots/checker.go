// Package robots answers whether a page may be fetched under the site's
// robots.txt rules. The probe fetcher gets this from colly, but the
// headless renderer drives a plain browser, so its page hits are screened
// here.
package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const defaultTimeout = 10 * time.Second

// Checker fetches robots.txt once per host and tests paths against it.
// A host whose robots.txt cannot be fetched allows everything; only an
// explicit disallow blocks a page.
type Checker struct {
	mu        sync.RWMutex
	cache     map[string]*robotstxt.RobotsData
	client    *http.Client
	userAgent string
}

// New builds a checker. The user agent is matched against robots.txt
// groups; timeout bounds the robots.txt fetch itself.
func New(userAgent string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Checker{
		cache:     make(map[string]*robotstxt.RobotsData),
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Allowed reports whether the URL may be fetched. The error return is
// reserved for unusable URLs; robots.txt fetch failures allow the page.
func (c *Checker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Host == "" {
		return false, fmt.Errorf("url %q has no host", rawURL)
	}

	data, err := c.robotsData(ctx, parsed)
	if err != nil {
		return true, nil
	}
	return data.TestAgent(parsed.Path, c.userAgent), nil
}

func (c *Checker) robotsData(ctx context.Context, page *url.URL) (*robotstxt.RobotsData, error) {
	c.mu.RLock()
	data, ok := c.cache[page.Host]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", page.Scheme, page.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	c.mu.Lock()
	c.cache[page.Host] = data
	c.mu.Unlock()
	return data, nil
}
