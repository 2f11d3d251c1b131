package store

import (
	"errors"
	"testing"

	"github.com/clawnet/node/internal/testutil"
)

func newTestStore(t *testing.T, sb *testutil.Sandbox) *Store {
	t.Helper()
	s, err := Open(sb.Path("events.log"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndGetByHash(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := newTestStore(t, sb)
	if err := s.Append(AppendMeta{Hash: "h1", Issuer: "did:claw:alice", Resource: "r1"}, []byte("event-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, ok := s.GetByHash("h1")
	if !ok || string(data) != "event-1" {
		t.Fatalf("GetByHash = %q, %v, want event-1, true", data, ok)
	}
	if got := s.LatestHash(); got != "h1" {
		t.Fatalf("LatestHash = %q, want h1", got)
	}
	if got := s.LastByIssuer("did:claw:alice"); got != "h1" {
		t.Fatalf("LastByIssuer = %q, want h1", got)
	}
	if got := s.LastByResource("r1"); got != "h1" {
		t.Fatalf("LastByResource = %q, want h1", got)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
}

func TestAppendDuplicateRejected(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := newTestStore(t, sb)
	if err := s.Append(AppendMeta{Hash: "h1"}, []byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(AppendMeta{Hash: "h1"}, []byte("a")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1 after duplicate", got)
	}
}

func TestWALRecoveryReplaysAppendedEvents(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()
	path := sb.Path("events.log")

	s1, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i, h := range []string{"h1", "h2", "h3"} {
		meta := AppendMeta{Hash: h, Issuer: "did:claw:alice"}
		if err := s1.Append(meta, []byte{byte(i)}); err != nil {
			t.Fatalf("append %s: %v", h, err)
		}
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if got := s2.Len(); got != 3 {
		t.Fatalf("Len after recovery = %d, want 3", got)
	}
	if got := s2.LatestHash(); got != "h3" {
		t.Fatalf("LatestHash after recovery = %q, want h3", got)
	}
}

func TestLogRangePaginatesFromCursor(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := newTestStore(t, sb)
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		if err := s.Append(AppendMeta{Hash: h}, []byte(h)); err != nil {
			t.Fatalf("append %s: %v", h, err)
		}
	}

	events, cursor, err := s.LogRange("", 2)
	if err != nil {
		t.Fatalf("LogRange: %v", err)
	}
	if len(events) != 2 || string(events[0]) != "h1" || string(events[1]) != "h2" {
		t.Fatalf("first page = %v, want [h1 h2]", events)
	}
	if cursor != "h2" {
		t.Fatalf("cursor = %q, want h2", cursor)
	}

	events, cursor, err = s.LogRange(cursor, 10)
	if err != nil {
		t.Fatalf("LogRange page 2: %v", err)
	}
	if len(events) != 2 || string(events[0]) != "h3" || string(events[1]) != "h4" {
		t.Fatalf("second page = %v, want [h3 h4]", events)
	}
	if cursor != "" {
		t.Fatalf("cursor at end = %q, want empty", cursor)
	}
}

func TestLogRangeUnknownCursorErrors(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := newTestStore(t, sb)
	if err := s.Append(AppendMeta{Hash: "h1"}, []byte("h1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, _, err := s.LogRange("nonexistent", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCompactDropsEntriesUpToBoundary(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := newTestStore(t, sb)
	for _, h := range []string{"h1", "h2", "h3"} {
		if err := s.Append(AppendMeta{Hash: h, Issuer: "did:claw:alice"}, []byte(h)); err != nil {
			t.Fatalf("append %s: %v", h, err)
		}
	}
	if err := s.Compact("h1"); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if got := s.Len(); got != 2 {
		t.Fatalf("Len after compact = %d, want 2", got)
	}
	if _, ok := s.GetByHash("h1"); ok {
		t.Fatal("h1 should have been dropped by compaction")
	}
	if _, ok := s.GetByHash("h2"); !ok {
		t.Fatal("h2 should survive compaction")
	}
	if got := s.LastByIssuer("did:claw:alice"); got != "h3" {
		t.Fatalf("LastByIssuer after compact = %q, want h3", got)
	}
}
