package onebot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"
)

func testClientLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type recordedCall struct {
	Path string
	Auth string
	Body map[string]any
}

type gateway struct {
	mu     sync.Mutex
	calls  []recordedCall
	status int
}

func newGateway(t *testing.T, status int) (*gateway, *httptest.Server) {
	t.Helper()
	g := &gateway{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.calls = append(g.calls, recordedCall{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
		g.mu.Unlock()
		w.WriteHeader(g.status)
		w.Write([]byte(`{"status":"ok","retcode":0}`))
	}))
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *gateway) snapshot() []recordedCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]recordedCall(nil), g.calls...)
}

func newTestClient(baseURL, token string) *Client {
	return NewClient(ClientConfig{
		BaseURL:     baseURL + "/",
		AccessToken: token,
		Timeout:     2 * time.Second,
		Logger:      testClientLogger(),
	})
}

func TestSendGroup_Payload(t *testing.T) {
	g, srv := newGateway(t, http.StatusOK)
	c := newTestClient(srv.URL, "secret")

	if err := c.SendGroup(context.Background(), "111", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	calls := g.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.Path != "/send_group_msg" {
		t.Errorf("unexpected path %s", call.Path)
	}
	if call.Auth != "Bearer secret" {
		t.Errorf("unexpected auth header %q", call.Auth)
	}
	if call.Body["group_id"] != float64(111) {
		t.Errorf("expected numeric group_id, got %v", call.Body["group_id"])
	}
	if call.Body["message"] != "hello" {
		t.Errorf("unexpected message %v", call.Body["message"])
	}
}

func TestSendAt_PrefixesMention(t *testing.T) {
	g, srv := newGateway(t, http.StatusOK)
	c := newTestClient(srv.URL, "")

	if err := c.SendAt(context.Background(), "111", "222", "done"); err != nil {
		t.Fatalf("send: %v", err)
	}
	call := g.snapshot()[0]
	if call.Body["message"] != "[CQ:at,qq=222] done" {
		t.Errorf("unexpected message %v", call.Body["message"])
	}
	if call.Auth != "" {
		t.Errorf("expected no auth header, got %q", call.Auth)
	}
}

func TestSendPrivate_Payload(t *testing.T) {
	g, srv := newGateway(t, http.StatusOK)
	c := newTestClient(srv.URL, "")

	if err := c.SendPrivate(context.Background(), "333", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	call := g.snapshot()[0]
	if call.Path != "/send_msg" {
		t.Errorf("unexpected path %s", call.Path)
	}
	if call.Body["message_type"] != "private" || call.Body["user_id"] != float64(333) {
		t.Errorf("unexpected body %v", call.Body)
	}
}

func TestSend_Non2xxIsError(t *testing.T) {
	_, srv := newGateway(t, http.StatusBadGateway)
	c := newTestClient(srv.URL, "")

	if err := c.SendGroup(context.Background(), "111", "x"); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestSend_UnreachableGateway(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", "")
	if err := c.SendPrivate(context.Background(), "1", "x"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestBroadcast_AllGroups(t *testing.T) {
	g, srv := newGateway(t, http.StatusOK)
	c := newTestClient(srv.URL, "")

	c.Broadcast([]string{"111", "222", "333"}, "news")
	c.Wait()

	calls := g.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	var ids []float64
	for _, call := range calls {
		ids = append(ids, call.Body["group_id"].(float64))
	}
	sort.Float64s(ids)
	if ids[0] != 111 || ids[2] != 333 {
		t.Errorf("unexpected groups %v", ids)
	}
}

func TestBroadcast_FailuresAreSwallowed(t *testing.T) {
	_, srv := newGateway(t, http.StatusInternalServerError)
	c := newTestClient(srv.URL, "")

	c.Broadcast([]string{"111"}, "news")
	c.Wait()
}

func TestNumericID_NonNumericKeptAsString(t *testing.T) {
	if v := numericID("abc"); v != "abc" {
		t.Errorf("expected string, got %v", v)
	}
}

func TestSend_ThrottledWhenBucketEmpty(t *testing.T) {
	g, srv := newGateway(t, http.StatusOK)
	c := NewClient(ClientConfig{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		SendsPerMinute: 1,
		SendBurst:      1,
		Logger:         testClientLogger(),
	})

	if err := c.SendGroup(context.Background(), "111", "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.SendGroup(ctx, "111", "second"); err == nil {
		t.Fatal("expected throttled send to fail when its context expires")
	}
	if n := len(g.snapshot()); n != 1 {
		t.Fatalf("expected only the first send to reach the gateway, got %d", n)
	}
}
