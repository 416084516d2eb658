package pagination

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
	token := Encode(now)
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	got, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got == nil || !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}
}

func TestDecodeEmptyTokenIsFirstPage(t *testing.T) {
	got, err := Decode("")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil bound for empty token, got %v", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not-a-valid-cursor!!"); err == nil {
		t.Fatal("expected error for garbage cursor")
	}
}

func TestDecodeRejectsForeignBase64JSON(t *testing.T) {
	// valid base64url, valid JSON, but not our cursor shape
	if _, err := Decode("eyJmb28iOiJiYXIifQ"); err == nil {
		t.Fatal("expected ErrInvalidCursor for a JSON object lacking page/key")
	}
}

type item struct {
	val       int
	createdAt time.Time
}

func TestPaginateReturnsNextCursorWhenMoreRowsExist(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	all := make([]item, 10)
	for i := range all {
		all[i] = item{val: i, createdAt: base.Add(time.Duration(-i) * time.Hour)}
	}

	fetch := func(before *time.Time, limit int) ([]item, error) {
		start := 0
		if before != nil {
			for i, it := range all {
				if it.createdAt.Before(*before) {
					start = i
					break
				}
			}
		}
		end := start + limit
		if end > len(all) {
			end = len(all)
		}
		return all[start:end], nil
	}

	page, err := Paginate(3, nil, fetch, func(it item) time.Time { return it.createdAt })
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(page.Items))
	}
	if page.Next == "" {
		t.Fatal("expected a next cursor since more rows remain")
	}

	before, err := Decode(page.Next)
	if err != nil {
		t.Fatalf("Decode next cursor: %v", err)
	}
	page2, err := Paginate(3, before, fetch, func(it item) time.Time { return it.createdAt })
	if err != nil {
		t.Fatalf("Paginate page 2: %v", err)
	}
	if len(page2.Items) != 3 {
		t.Fatalf("expected 3 items on page 2, got %d", len(page2.Items))
	}
	if page2.Items[0].val == page.Items[0].val {
		t.Fatal("page 2 should not repeat page 1's items")
	}
}

func TestPaginateTerminalPageHasNoNextCursor(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	all := []item{{val: 0, createdAt: base}, {val: 1, createdAt: base.Add(-time.Hour)}}
	fetch := func(before *time.Time, limit int) ([]item, error) {
		if limit > len(all) {
			limit = len(all)
		}
		return all[:limit], nil
	}
	page, err := Paginate(5, nil, fetch, func(it item) time.Time { return it.createdAt })
	if err != nil {
		t.Fatalf("Paginate: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.Next != "" {
		t.Fatal("expected no next cursor on terminal page")
	}
}
