package quest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/questengine/cache"
	"github.com/kasuganosora/questengine/model"
	"github.com/kasuganosora/questengine/plugin/hook"
	"github.com/kasuganosora/questengine/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testCommunity = "guild-1"
	testUser      = "member-1"
	msgSent       = "message_sent"
)

// Wednesday 2026-03-04 10:00 UTC.
var baseTime = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func nopLogger() *zap.Logger { return zap.NewNop() }

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// ---- fake collaborators ----

type creditCall struct {
	CommunityID, UserID string
	Amount              int64
	Reason              string
}

type fakeCurrency struct {
	mu    sync.Mutex
	calls []creditCall
	err   error
}

func (f *fakeCurrency) Credit(_ context.Context, cid, uid string, amount int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, creditCall{cid, uid, amount, reason})
	return f.err
}

func (f *fakeCurrency) Calls() []creditCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]creditCall(nil), f.calls...)
}

type fakeXP struct {
	mu    sync.Mutex
	calls []creditCall
	err   error
}

func (f *fakeXP) Credit(_ context.Context, cid, uid string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, creditCall{CommunityID: cid, UserID: uid, Amount: amount})
	return f.err
}

func (f *fakeXP) Calls() []creditCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]creditCall(nil), f.calls...)
}

type grantCall struct {
	CommunityID, UserID, ID string
	Quantity                int
}

type fakeGrantor struct {
	mu    sync.Mutex
	calls []grantCall
	err   error
	block bool // wait for ctx to expire
}

func (f *fakeGrantor) Grant(ctx context.Context, cid, uid, roleID string) error {
	return f.record(ctx, grantCall{cid, uid, roleID, 0})
}

func (f *fakeGrantor) record(ctx context.Context, c grantCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeGrantor) Calls() []grantCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]grantCall(nil), f.calls...)
}

type fakeItems struct{ fakeGrantor }

func (f *fakeItems) Grant(ctx context.Context, cid, uid, itemID string, qty int) error {
	return f.record(ctx, grantCall{cid, uid, itemID, qty})
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, uid, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = make(map[string][]string)
	}
	f.messages[uid] = append(f.messages[uid], msg)
	return f.err
}

func (f *fakeNotifier) For(uid string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[uid]...)
}

var errLedgerDown = errors.New("ledger unavailable")

// ---- harness ----

type harness struct {
	db         *gorm.DB
	cache      cache.Cache
	clock      *fakeClock
	hooks      *hook.HookCenter
	gate       *Gate
	catalog    *Catalog
	board      *Board
	dispatcher *Dispatcher
	engine     *Engine
	sweeper    *Sweeper

	currency *fakeCurrency
	xp       *fakeXP
	roles    *fakeGrantor
	items    *fakeItems
	notifier *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	h := &harness{
		db:       db,
		cache:    c,
		clock:    &fakeClock{t: baseTime},
		hooks:    hook.NewHookCenter(),
		currency: &fakeCurrency{},
		xp:       &fakeXP{},
		roles:    &fakeGrantor{},
		items:    &fakeItems{},
		notifier: &fakeNotifier{},
	}
	log := nopLogger()
	h.gate = NewGate(db, c, time.Minute, log)
	h.catalog = NewCatalog(db, h.gate, log)
	h.board = NewBoard(db, c, 5, log)
	h.dispatcher = NewDispatcher(db, DispatcherConfig{
		Collaborators: Collaborators{
			Currency:   h.currency,
			Experience: h.xp,
			Roles:      h.roles,
			Items:      h.items,
			Notifier:   h.notifier,
		},
		Hooks:         h.hooks,
		Board:         h.board,
		RewardTimeout: 200 * time.Millisecond,
		Now:           h.clock.Now,
	}, log)
	h.engine = NewEngine(db, h.gate, h.dispatcher, h.hooks, EngineConfig{
		Workers:   2,
		QueueSize: 16,
		Now:       h.clock.Now,
	}, log)
	h.sweeper = NewSweeper(db, c, h.gate, h.hooks, SweeperConfig{
		Concurrency: 2,
		Now:         h.clock.Now,
	}, log)
	t.Cleanup(func() { _ = h.engine.Stop(context.Background()) })
	return h
}

func (h *harness) create(t *testing.T, in QuestInput) *model.Quest {
	t.Helper()
	if in.ActivityType == "" {
		in.ActivityType = msgSent
	}
	if in.Name == "" {
		in.Name = "Chatterbox"
	}
	if in.TargetCount == 0 {
		in.TargetCount = 3
	}
	q, err := h.catalog.CreateQuest(context.Background(), testCommunity, in)
	require.NoError(t, err)
	return q
}

func (h *harness) send(t *testing.T, user string, amount int64) *UpdateResult {
	t.Helper()
	res, err := h.engine.UpdateProgress(context.Background(), Activity{
		CommunityID: testCommunity,
		UserID:      user,
		Type:        msgSent,
		Amount:      amount,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) record(t *testing.T, questID int64, user string) *model.QuestProgress {
	t.Helper()
	rec, err := h.engine.store.get(context.Background(), questID, user)
	require.NoError(t, err)
	return rec
}

func (h *harness) completions(t *testing.T, questID int64, user string) []model.QuestCompletion {
	t.Helper()
	var out []model.QuestCompletion
	require.NoError(t, h.db.Where("quest_id = ? AND user_id = ?", questID, user).
		Order("completion_number").Find(&out).Error)
	return out
}
