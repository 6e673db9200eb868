package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"qqbridge/internal/config"
	"qqbridge/internal/domain"
	"qqbridge/internal/server"
)

func testAppLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type gatewayCall struct {
	endpoint string
	body     map[string]any
}

func fakeGateway(t *testing.T) (*httptest.Server, func() []gatewayCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []gatewayCall
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, gatewayCall{strings.TrimPrefix(r.URL.Path, "/"), body})
		mu.Unlock()
		w.Write([]byte(`{"status":"ok","retcode":0}`))
	}))
	t.Cleanup(ts.Close)
	return ts, func() []gatewayCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]gatewayCall(nil), calls...)
	}
}

func testConfig(t *testing.T, gatewayURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Gateway.BaseURL = gatewayURL
	cfg.Gateway.AccessToken = "tok"
	cfg.Groups = config.GroupList{"123456"}
	cfg.Features = config.FeaturesConfig{Interaction: true, Bind: true, CheckIn: true, LatestPosts: true, PointsTransfer: true}
	cfg.Store.DSN = filepath.Join(t.TempDir(), "site.db")
	return cfg
}

func TestApp_BindOverHTTP(t *testing.T) {
	logger = testAppLogger()
	gw, calls := fakeGateway(t)
	cfg := testConfig(t, gw.URL)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	id, err := a.store.CreateUser(ctx, domain.Account{Login: "alice", Email: "alice@example.com", DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}

	srv := server.New(server.Config{AccessToken: cfg.Gateway.AccessToken, Dispatcher: a.dispatcher, Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"post_type":"message","message_type":"group","group_id":123456,"user_id":10001,"raw_message":"+论坛绑定 alice@example.com"}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/qqpush/v1/receive", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var res domain.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.StatusSuccess || res.UserID != id || res.QQID != "10001" {
		t.Fatalf("unexpected result %+v", res)
	}

	got, ok, err := a.bindings.Find(ctx, "10001")
	if err != nil || !ok || got != id {
		t.Fatalf("binding not stored: %d %v %v", got, ok, err)
	}

	var group, private int
	for _, c := range calls() {
		switch c.endpoint {
		case "send_group_msg":
			group++
		case "send_msg":
			private++
		}
	}
	if group != 1 || private != 1 {
		t.Errorf("expected one group and one private reply, got %d/%d", group, private)
	}
}

func TestWorker_BroadcastsFromConfig(t *testing.T) {
	logger = testAppLogger()
	gw, calls := fakeGateway(t)
	cfg := testConfig(t, gw.URL)
	cfg.Groups = config.GroupList{"1", "2"}

	client := newClient(cfg, logger)
	ev := domain.ContentEvent{
		Type:      domain.EventPostTransition,
		Post:      domain.Post{ID: 3, Type: "post", Title: "Hello", Permalink: "https://example.com/?p=3"},
		OldStatus: "draft",
		NewStatus: "publish",
	}
	if !newWorker(cfg, client, logger).Handle(context.Background(), ev) {
		t.Fatal("expected a notification")
	}
	client.Wait()

	got := calls()
	if len(got) != 2 {
		t.Fatalf("expected 2 group sends, got %d", len(got))
	}
	for _, c := range got {
		if c.endpoint != "send_group_msg" || !strings.Contains(c.body["message"].(string), "新文章发布") {
			t.Errorf("unexpected call %+v", c)
		}
	}
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qqbridge.log")
	l, closer, err := newLogger(config.GeneralConfig{LogLevel: "warn", LogFile: path})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("visible")
	closer()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "visible") {
		t.Errorf("unexpected log contents %q", data)
	}
}

func TestRenderUnit_SystemdCarriesEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("QQBRIDGE_TOKEN=x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	spec, err := newServiceSpec(cfg, "/usr/local/bin/qqbridge", filepath.Join(dir, "qqbridge.yaml"), envPath)
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	unit, err := renderUnit(systemdTmpl, spec)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"EnvironmentFile=" + envPath,
		"WorkingDirectory=" + dir,
		"ExecStart=/usr/local/bin/qqbridge serve --config " + filepath.Join(dir, "qqbridge.yaml") + " --env-file " + envPath,
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("missing %q in unit:\n%s", want, unit)
		}
	}
	if !strings.HasSuffix(spec.Listen, cfg.Server.ReceivePath) {
		t.Errorf("listen = %q", spec.Listen)
	}
}

func TestRenderUnit_NoEnvFile(t *testing.T) {
	spec, err := newServiceSpec(config.Defaults(), "/usr/local/bin/qqbridge", "/etc/qqbridge.yaml", "")
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	unit, err := renderUnit(systemdTmpl, spec)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(unit, "EnvironmentFile") || strings.Contains(unit, "--env-file") {
		t.Errorf("unexpected env file in unit:\n%s", unit)
	}
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/qqbridge serve --config /etc/qqbridge.yaml\n") {
		t.Errorf("unexpected unit:\n%s", unit)
	}
}

func TestRenderUnit_LaunchdEscapesPaths(t *testing.T) {
	spec, err := newServiceSpec(config.Defaults(), "/Apps/Q&A/qqbridge", "/c.json", "")
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	spec.Log, spec.ErrLog = "/l", "/e"
	plist, err := renderUnit(launchdTmpl, spec)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(plist, "<string>/Apps/Q&amp;A/qqbridge</string>") {
		t.Errorf("exec path not escaped:\n%s", plist)
	}
	if !strings.Contains(plist, "<string>--config</string>") || strings.Contains(plist, "{{") {
		t.Errorf("unexpected plist:\n%s", plist)
	}
}

func TestNewServiceSpec_MissingEnvFile(t *testing.T) {
	if _, err := newServiceSpec(config.Defaults(), "/bin/q", "/c.json", filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
