package handler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"qqbridge/internal/binding"
	"qqbridge/internal/domain"
)

func testHandlerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeHost is an in-memory host with failure switches.
type fakeHost struct {
	mu       sync.Mutex
	accounts map[int64]domain.Account
	meta     map[int64]map[string]string
	posts    []domain.Post
	ledger   []domain.PointsMutation

	checkInEnabled bool
	checkedIn      map[int64]bool
	streak         map[int64]int
	checkInCalls   int
	checkInErr     error
	commitStreak   int // when set, CheckIn reports this streak instead of its own count

	failCreditTo  int64 // Mutate with positive delta to this account fails
	failDebit     bool
	failRollback  bool
	postsErr      error
	mutateCalls   int
}

var errInjected = errors.New("injected failure")

func newFakeHost() *fakeHost {
	return &fakeHost{
		accounts:       map[int64]domain.Account{},
		meta:           map[int64]map[string]string{},
		checkedIn:      map[int64]bool{},
		streak:         map[int64]int{},
		checkInEnabled: true,
	}
}

func (f *fakeHost) addAccount(id int64, login, email string) {
	f.accounts[id] = domain.Account{ID: id, Login: login, Email: email, DisplayName: strings.ToUpper(login)}
}

func (f *fakeHost) AccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if strings.EqualFold(a.Email, email) {
			a := a
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeHost) AccountByID(_ context.Context, id int64) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (f *fakeHost) SetMeta(_ context.Context, id int64, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meta[id] == nil {
		f.meta[id] = map[string]string{}
	}
	f.meta[id][key] = value
	return nil
}

func (f *fakeHost) DeleteMeta(_ context.Context, id int64, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.meta[id][key]; !ok {
		return false, nil
	}
	delete(f.meta[id], key)
	return true, nil
}

func (f *fakeHost) FindAccountByMeta(_ context.Context, key, value string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.meta {
		if m[key] == value {
			return id, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (f *fakeHost) ListMeta(_ context.Context, key string) (map[int64]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]string{}
	for id, m := range f.meta {
		if v, ok := m[key]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeHost) DeleteMetaByKey(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.meta {
		if _, ok := m[key]; ok {
			delete(m, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeHost) RecentPosts(_ context.Context, q domain.PostQuery) ([]domain.Post, error) {
	if f.postsErr != nil {
		return nil, f.postsErr
	}
	var out []domain.Post
	for _, p := range f.posts {
		if p.Type == q.Type && p.Status == q.Status && len(out) < q.Limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeHost) Balance(_ context.Context, id int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, m := range f.ledger {
		if m.AccountID == id {
			sum += m.Delta
		}
	}
	return sum, nil
}

func (f *fakeHost) Mutate(_ context.Context, m domain.PointsMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutateCalls++
	switch {
	case f.failDebit && m.Delta < 0:
		return errInjected
	case f.failCreditTo != 0 && m.AccountID == f.failCreditTo && m.Delta > 0:
		return errInjected
	case f.failRollback && strings.HasSuffix(m.Token, "_rollback"):
		return errInjected
	}
	f.ledger = append(f.ledger, m)
	return nil
}

func (f *fakeHost) Enabled() bool { return f.checkInEnabled }

func (f *fakeHost) CheckedInToday(_ context.Context, id int64) (bool, error) {
	return f.checkedIn[id], nil
}

func (f *fakeHost) RewardPreview(_ context.Context, id int64) (domain.CheckInReward, error) {
	return domain.CheckInReward{ContinuousDays: f.streak[id] + 1, Points: 10, Integral: 5}, nil
}

func (f *fakeHost) CheckIn(_ context.Context, id int64) (domain.CheckInReward, error) {
	f.checkInCalls++
	if f.checkInErr != nil {
		return domain.CheckInReward{}, f.checkInErr
	}
	f.checkedIn[id] = true
	f.streak[id]++
	if f.commitStreak != 0 {
		return domain.CheckInReward{ContinuousDays: f.commitStreak, Points: 10, Integral: 5}, nil
	}
	return domain.CheckInReward{ContinuousDays: f.streak[id], Points: 10, Integral: 5}, nil
}

func (f *fakeHost) services() domain.Host {
	return domain.Host{Accounts: f, Meta: f, Content: f, Points: f, CheckIns: f}
}

type sent struct {
	Kind    string // group | at | private
	GroupID string
	UserID  string
	Text    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *fakeNotifier) SendGroup(_ context.Context, groupID, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{Kind: "group", GroupID: groupID, Text: msg})
	return n.err
}

func (n *fakeNotifier) SendAt(_ context.Context, groupID, userID, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{Kind: "at", GroupID: groupID, UserID: userID, Text: msg})
	return n.err
}

func (n *fakeNotifier) SendPrivate(_ context.Context, userID, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{Kind: "private", UserID: userID, Text: msg})
	return n.err
}

func (n *fakeNotifier) find(kind string) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	host     *fakeHost
	notifier *fakeNotifier
	bindings *binding.Store
	cfg      Config
}

var fixedNow = time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := newFakeHost()
	h.addAccount(5, "alice", "a@b.com")
	h.addAccount(6, "bob", "bob@b.com")
	n := &fakeNotifier{}
	b := binding.NewStore(h, testHandlerLogger())
	return &fixture{
		host:     h,
		notifier: n,
		bindings: b,
		cfg: Config{
			Features: Features{Bind: true, CheckIn: true, LatestPosts: true, PointsTransfer: true},
			ForumURL: "https://example.com/plate",
			Location: time.FixedZone("CST", 8*60*60),
			Host:     h.services(),
			Bindings: b,
			Notifier: n,
			Logger:   testHandlerLogger(),
			Now:      func() time.Time { return fixedNow },
			NewToken: func() string { return "tok" },
		},
	}
}

// run sends one command through the default handler chain.
func (f *fixture) run(t *testing.T, sender string, cmd domain.Command) domain.Result {
	t.Helper()
	req := Request{
		Message: domain.InboundMessage{MessageType: "group", GroupID: "111", SenderID: sender, Text: "-"},
		Command: cmd,
	}
	for _, h := range Default(f.cfg) {
		if res, ok := h.TryHandle(context.Background(), req); ok {
			return res
		}
	}
	t.Fatalf("no handler claimed %v", cmd.Kind)
	return domain.Result{}
}

func (f *fixture) bind(t *testing.T, chatID string, accountID int64) {
	t.Helper()
	if err := f.bindings.Bind(context.Background(), chatID, accountID); err != nil {
		t.Fatal(err)
	}
}
