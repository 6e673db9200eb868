package binding

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"qqbridge/internal/domain"
	"qqbridge/internal/host"
)

func testBindingLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestStore(t *testing.T) (*Store, *host.SQLite, []int64) {
	t.Helper()
	h, err := host.NewSQLite(host.Config{DSN: filepath.Join(t.TempDir(), "site.db"), Logger: testBindingLogger()})
	if err != nil {
		t.Fatalf("open host: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	var ids []int64
	for _, login := range []string{"alice", "bob", "carol"} {
		id, err := h.CreateUser(context.Background(), domain.Account{Login: login, Email: login + "@example.com"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return NewStore(h, testBindingLogger()), h, ids
}

func TestBind_ThenFind(t *testing.T) {
	s, _, ids := newTestStore(t)
	ctx := context.Background()

	if err := s.Bind(ctx, "222", ids[0]); err != nil {
		t.Fatalf("bind: %v", err)
	}
	id, ok, err := s.Find(ctx, "222")
	if err != nil || !ok || id != ids[0] {
		t.Fatalf("expected %d, got %d ok=%v err=%v", ids[0], id, ok, err)
	}
}

func TestFind_Unbound(t *testing.T) {
	s, _, _ := newTestStore(t)
	if _, ok, err := s.Find(context.Background(), "999"); ok || err != nil {
		t.Fatalf("expected unbound, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.Find(context.Background(), ""); ok {
		t.Fatal("empty chat id must never resolve")
	}
}

func TestBind_IsIdempotent(t *testing.T) {
	s, _, ids := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Bind(ctx, "222", ids[0]); err != nil {
			t.Fatal(err)
		}
	}
	list, _ := s.List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one binding, got %v", list)
	}
}

func TestBind_LastWriteWinsPerChatID(t *testing.T) {
	s, _, ids := newTestStore(t)
	ctx := context.Background()

	s.Bind(ctx, "222", ids[0])
	if err := s.Bind(ctx, "222", ids[1]); err != nil {
		t.Fatal(err)
	}
	id, ok, _ := s.Find(ctx, "222")
	if !ok || id != ids[1] {
		t.Fatalf("expected latest account %d, got %d", ids[1], id)
	}
	list, _ := s.List(ctx)
	if len(list) != 1 || list[0].AccountID != ids[1] {
		t.Fatalf("previous holder should be released, got %v", list)
	}
}

func TestBind_AccountMovesToNewChatID(t *testing.T) {
	s, _, ids := newTestStore(t)
	ctx := context.Background()

	s.Bind(ctx, "222", ids[0])
	s.Bind(ctx, "333", ids[0])

	if _, ok, _ := s.Find(ctx, "222"); ok {
		t.Error("old chat identity should no longer resolve")
	}
	if id, ok, _ := s.Find(ctx, "333"); !ok || id != ids[0] {
		t.Error("new chat identity should resolve")
	}
}

func TestUnbind(t *testing.T) {
	s, _, ids := newTestStore(t)
	ctx := context.Background()

	s.Bind(ctx, "222", ids[0])
	removed, err := s.Unbind(ctx, ids[0])
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}
	if _, ok, _ := s.Find(ctx, "222"); ok {
		t.Fatal("binding should be gone")
	}
	if removed, _ := s.Unbind(ctx, ids[0]); removed {
		t.Fatal("second unbind should report nothing removed")
	}
}

func TestListAndPurge(t *testing.T) {
	s, _, ids := newTestStore(t)
	ctx := context.Background()

	s.Bind(ctx, "333", ids[2])
	s.Bind(ctx, "111", ids[0])

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].AccountID != ids[0] || list[1].ChatID != "333" {
		t.Fatalf("unexpected list %v", list)
	}

	n, err := s.Purge(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 purged, got %d (%v)", n, err)
	}
	if list, _ := s.List(ctx); len(list) != 0 {
		t.Fatalf("expected no bindings after purge, got %v", list)
	}
}
