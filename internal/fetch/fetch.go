// Package fetch implements C5: outbound HTTP GETs for remote AP objects and
// WebFinger resolution, with a User-Agent policy and lookaside caching.
// Grounded on klppl-klistr/internal/ap/client.go's FetchObject/
// WebFingerResolve (same shape, cache swapped from package-level sync.Map to
// the injectable internal/cache.Cache so callers can choose Memory or Redis).
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/stegodon-federate/internal/cache"
)

const userAgent = "stegodon-federate/1.0 (+https://github.com/deemkeen/stegodon-federate)"

// ErrGone is returned when a remote object responds 410 Gone, signalling a
// tombstoned actor or note per spec.md's Delete-activity affordances.
var ErrGone = errors.New("fetch: remote object is gone")

// HTTPClient is the interface fetch depends on, so tests can substitute a
// mock without a real network round trip, matching
// gnp-x-stegodon/activitypub/deps.go's HTTPClient seam.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches remote AP objects and resolves WebFinger handles, caching
// both behind the injected cache.Cache.
type Client struct {
	http  HTTPClient
	cache cache.Cache
	ttl   time.Duration
}

// New builds a Client with the given timeout and cache backend.
func New(timeout time.Duration, c cache.Cache) *Client {
	return &Client{
		http:  &http.Client{Timeout: timeout},
		cache: c,
		ttl:   time.Hour,
	}
}

// SetHTTPClient overrides the underlying HTTP transport, used by callers in
// other packages' tests to inject a stub without a real network round trip.
func (c *Client) SetHTTPClient(h HTTPClient) {
	c.http = h
}

// FetchObject fetches and JSON-decodes a remote AP object, consulting the
// cache first.
func (c *Client) FetchObject(ctx context.Context, rawURL string) (map[string]interface{}, error) {
	cacheKey := "obj:" + rawURL
	if cached, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(cached), &obj); err == nil {
			return obj, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}
	req.Header.Set("Accept", `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, ErrGone
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: http %d", rawURL, resp.StatusCode)
	}

	var obj map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("fetch %s: decode: %w", rawURL, err)
	}

	if raw, err := json.Marshal(obj); err == nil {
		_ = c.cache.Set(ctx, cacheKey, string(raw), c.ttl)
	}
	return obj, nil
}

// FetchActor fetches a remote actor document. The caller (internal/resolve)
// is responsible for mapping the raw object into a domain.Actor.
func (c *Client) FetchActor(ctx context.Context, actorURL string) (map[string]interface{}, error) {
	return c.FetchObject(ctx, actorURL)
}

// InvalidateCache drops a cached object so the next FetchObject for rawURL
// goes to the network.
func (c *Client) InvalidateCache(ctx context.Context, rawURL string) {
	_ = c.cache.Delete(ctx, "obj:"+rawURL)
}

// WebFingerResolve resolves "user@domain" to an AP actor URL via
// /.well-known/webfinger, per spec.md §4.5/§6.
func (c *Client) WebFingerResolve(ctx context.Context, handle string) (string, error) {
	parts := strings.SplitN(handle, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("fetch: invalid handle %q: expected user@domain", handle)
	}
	domain := parts[1]

	cacheKey := "wf:" + strings.ToLower(handle)
	if cached, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}

	wfURL := "https://" + domain + "/.well-known/webfinger?resource=acct:" + handle
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wfURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: webfinger request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: webfinger fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: webfinger returned http %d for %s", resp.StatusCode, handle)
	}

	var wf struct {
		Links []struct {
			Rel  string `json:"rel"`
			Type string `json:"type"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		return "", fmt.Errorf("fetch: webfinger decode: %w", err)
	}

	for _, link := range wf.Links {
		if link.Rel == "self" && isAPMediaType(link.Type) {
			_ = c.cache.Set(ctx, cacheKey, link.Href, c.ttl)
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("fetch: no ActivityPub actor link found for %s", handle)
}

func isAPMediaType(t string) bool {
	return strings.Contains(t, "activity+json") || strings.Contains(t, "ld+json")
}
