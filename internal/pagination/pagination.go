// Package pagination implements C13: opaque cursor encode/decode for the
// outbox/followers/following collection pages, plus the limit+1-row fetch
// trick that turns a single "give me the next N" query into a has-more
// signal without a COUNT(*). Grounded on gnp-x-stegodon/web/router.go's
// ParsePageParam/GetOutbox call shape and klppl-klistr/internal/server/
// server.go's outboxPageSize constant, generalized from the teacher's bare
// ?page=N integer into spec.md's opaque base64url {page:true, key:{bd:...}}
// cursor so a page token doesn't leak row offsets or let a client skip
// around mid-collection.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCursor is returned by Decode when the cursor is malformed or
// was not produced by Encode; internal/httpapi answers it with 400 Bad
// Request.
var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// cursor is the JSON shape opaquely wrapped in the base64url token.
type cursor struct {
	Page bool `json:"page"`
	Key  *key `json:"key,omitempty"`
}

type key struct {
	BeforeDate string `json:"bd"` // RFC3339 timestamp, exclusive upper bound
}

// Encode builds the opaque "next" token for a page whose oldest item has
// createdAt. It always returns a token (or "" only if marshaling fails);
// Paginate is what leaves Next empty on the terminal page.
func Encode(createdAt time.Time) string {
	c := cursor{Page: true, Key: &key{BeforeDate: createdAt.Format(time.RFC3339Nano)}}
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
}

// Decode parses a token produced by Encode back into a beforeCreatedAt
// bound. An empty token (first page) decodes to a nil bound and no error.
func Decode(token string) (*time.Time, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if !c.Page || c.Key == nil {
		return nil, ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, c.Key.BeforeDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &t, nil
}

// Page is a fetched slice of items plus the cursor to the next page, or ""
// if items was the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// Paginate runs the limit+1-row fetch trick over fetch, which must return
// up to limit+1 items ordered newest-first starting at beforeCreatedAt
// (nil for the first page). The (limit+1)th item, if present, is dropped
// from the returned page and its CreatedAt becomes the next cursor.
func Paginate[T any](limit int, beforeCreatedAt *time.Time, fetch func(before *time.Time, fetchLimit int) ([]T, error), createdAtOf func(T) time.Time) (Page[T], error) {
	items, err := fetch(beforeCreatedAt, limit+1)
	if err != nil {
		return Page[T]{}, err
	}
	if len(items) <= limit {
		return Page[T]{Items: items}, nil
	}
	extra := items[limit]
	return Page[T]{Items: items[:limit], Next: Encode(createdAtOf(extra))}, nil
}
