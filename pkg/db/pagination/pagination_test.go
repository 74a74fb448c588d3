package pagination

import (
	"errors"
	"strconv"
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2026-03-01T12:00:00Z"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "42" || cursor.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm90LWpzb24", "e30"} {
		if _, err := DecodeCursor(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []int{1, 2, 3}
	extract := func(v int) Cursor { return Cursor{ID: strconv.Itoa(v)} }

	page, info, err := BuildCursorPageInfo(rows, 2, extract)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(page) != 2 || !info.HasMore || info.NextPageToken == "" {
		t.Fatalf("expected trimmed page with more, got %v %+v", page, info)
	}
	cursor, err := DecodeCursor(info.NextPageToken)
	if err != nil || cursor.ID != "2" {
		t.Fatalf("expected cursor at 2, got %+v %v", cursor, err)
	}

	page, info, err = BuildCursorPageInfo(rows, 5, extract)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(page) != 3 || info.HasMore {
		t.Fatalf("expected full page without more")
	}
}

func TestNormalize(t *testing.T) {
	if got := (Pagination{}).Normalize().PageSize; got != DefaultPageSize {
		t.Fatalf("expected default size, got %d", got)
	}
	if got := (Pagination{PageSize: 1000}).Normalize().PageSize; got != MaxPageSize {
		t.Fatalf("expected max size, got %d", got)
	}
}
