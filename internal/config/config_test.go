package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("DEV_MODE", "true")
	defer os.Unsetenv("DEV_MODE")
	os.Unsetenv("BASE_URL")

	c := Load()

	if c.BaseURL != "http://localhost:8000" {
		t.Errorf("expected dev default base url, got %q", c.BaseURL)
	}
	if c.DeliveryMaxRetries != 10 {
		t.Errorf("expected default retry cap 10, got %d", c.DeliveryMaxRetries)
	}
	if c.ReplyRecursionDepth != 10 {
		t.Errorf("expected default recursion depth 10, got %d", c.ReplyRecursionDepth)
	}
	if c.WebfingerTimeout != 5*time.Second {
		t.Errorf("expected default webfinger timeout 5s, got %v", c.WebfingerTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	os.Setenv("BASE_URL", "https://example.social")
	os.Setenv("DELIVERY_MAX_RETRIES", "3")
	defer func() {
		os.Unsetenv("BASE_URL")
		os.Unsetenv("DELIVERY_MAX_RETRIES")
	}()

	c := Load()

	if c.BaseURL != "https://example.social" {
		t.Errorf("expected overridden base url, got %q", c.BaseURL)
	}
	if c.DeliveryMaxRetries != 3 {
		t.Errorf("expected overridden retry cap 3, got %d", c.DeliveryMaxRetries)
	}
	if c.Domain() != "example.social" {
		t.Errorf("expected domain example.social, got %q", c.Domain())
	}
	if c.URL("/user/abc") != "https://example.social/user/abc" {
		t.Errorf("unexpected URL: %q", c.URL("/user/abc"))
	}
}
