package quest

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/questengine/model"
	"github.com/kasuganosora/questengine/plugin/hook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateProgress_CompletesOnTarget(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 3, RewardCurrency: 50, RewardXP: 20})

	for i := int64(1); i <= 2; i++ {
		res := h.send(t, testUser, 1)
		assert.Equal(t, []int64{q.ID}, res.Advanced)
		assert.Empty(t, res.Completed)
		rec := h.record(t, q.ID, testUser)
		assert.Equal(t, i, rec.CurrentProgress)
		assert.False(t, rec.Completed)
	}

	res := h.send(t, testUser, 1)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, 1, res.Completed[0].CompletionNumber)

	rec := h.record(t, q.ID, testUser)
	assert.Equal(t, int64(3), rec.CurrentProgress)
	assert.Equal(t, int64(3), rec.TargetProgress)
	assert.True(t, rec.Completed)
	assert.Equal(t, 1, rec.CompletionCount)
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.CompletedAt.Equal(baseTime))
	assert.Nil(t, rec.ResetAt, "one-shot quests never get a reset instant")

	log := h.completions(t, q.ID, testUser)
	require.Len(t, log, 1)
	assert.Equal(t, 1, log[0].CompletionNumber)
	assert.Equal(t, int64(3), log[0].Progress)
	assert.False(t, log[0].Manual)
	assert.Len(t, h.currency.Calls(), 1)
	assert.Len(t, h.xp.Calls(), 1)
}

func TestUpdateProgress_ClampsToTarget(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 3})

	h.send(t, testUser, 2)
	res := h.send(t, testUser, 10)
	require.Len(t, res.Completed, 1)

	rec := h.record(t, q.ID, testUser)
	assert.Equal(t, int64(3), rec.CurrentProgress)
	assert.Equal(t, int64(3), res.Completed[0].Progress)
}

func TestUpdateProgress_HugeAmountClamps(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 4})

	h.send(t, testUser, 2)
	res := h.send(t, testUser, math.MaxInt64)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, int64(4), h.record(t, q.ID, testUser).CurrentProgress)
}

func TestUpdateProgress_ZeroAmountCountsAsOne(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 5})

	h.send(t, testUser, 0)
	assert.Equal(t, int64(1), h.record(t, q.ID, testUser).CurrentProgress)
}

func TestUpdateProgress_TerminalQuestIgnoresActivity(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 1, RewardCurrency: 10})

	h.send(t, testUser, 1)
	res := h.send(t, testUser, 1)
	assert.Empty(t, res.Advanced)
	assert.Empty(t, res.Completed)

	rec := h.record(t, q.ID, testUser)
	assert.Equal(t, 1, rec.CompletionCount)
	assert.Len(t, h.completions(t, q.ID, testUser), 1)
	assert.Len(t, h.currency.Calls(), 1)
}

func TestUpdateProgress_MembersAreIndependent(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 2})

	h.send(t, testUser, 1)
	h.send(t, "member-2", 2)

	assert.Equal(t, int64(1), h.record(t, q.ID, testUser).CurrentProgress)
	assert.False(t, h.record(t, q.ID, testUser).Completed)
	assert.True(t, h.record(t, q.ID, "member-2").Completed)
}

func TestUpdateProgress_AllMatchingQuestsAdvance(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, QuestInput{Name: "Talk a bit", TargetCount: 2})
	b := h.create(t, QuestInput{Name: "Talk a lot", TargetCount: 10})
	h.create(t, QuestInput{Name: "React", ActivityType: "reaction", TargetCount: 1})

	res := h.send(t, testUser, 1)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, res.Advanced)
}

func TestUpdateProgress_HiddenAndDisabledIgnored(t *testing.T) {
	h := newHarness(t)
	hidden := h.create(t, QuestInput{Name: "Hidden", Visible: boolPtr(false)})
	disabled := h.create(t, QuestInput{Name: "Disabled", Enabled: boolPtr(false)})

	res := h.send(t, testUser, 1)
	assert.Empty(t, res.Advanced)

	for _, id := range []int64{hidden.ID, disabled.ID} {
		_, err := h.engine.store.get(context.Background(), id, testUser)
		assert.ErrorIs(t, err, ErrProgressNotFound)
	}
}

func TestUpdateProgress_Prerequisites(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, QuestInput{Name: "Say hello", TargetCount: 1})
	second := h.create(t, QuestInput{Name: "Keep talking", TargetCount: 1, PrerequisiteIDs: []int64{first.ID}})

	// Prerequisites are evaluated before this event applies.
	res := h.send(t, testUser, 1)
	assert.Equal(t, []int64{first.ID}, res.Advanced)
	_, err := h.engine.store.get(context.Background(), second.ID, testUser)
	assert.ErrorIs(t, err, ErrProgressNotFound)

	res = h.send(t, testUser, 1)
	assert.Equal(t, []int64{second.ID}, res.Advanced)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, second.ID, res.Completed[0].QuestID)
}

func TestUpdateProgress_PrerequisiteMustBeCompleted(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, QuestInput{Name: "Chat", TargetCount: 5})
	second := h.create(t, QuestInput{Name: "Chat more", TargetCount: 1, PrerequisiteIDs: []int64{first.ID}})

	for i := 0; i < 3; i++ {
		res := h.send(t, testUser, 1)
		assert.NotContains(t, res.Advanced, second.ID)
	}
}

func TestUpdateProgress_PrerequisitesArePerMember(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, QuestInput{Name: "Chat", TargetCount: 1})
	second := h.create(t, QuestInput{Name: "Chat more", TargetCount: 1, PrerequisiteIDs: []int64{first.ID}})

	h.send(t, "member-2", 1)
	h.send(t, "member-2", 1)
	assert.True(t, h.record(t, second.ID, "member-2").Completed)

	res := h.send(t, testUser, 1)
	assert.Equal(t, []int64{first.ID}, res.Advanced)
}

func TestUpdateProgress_ChannelFilter(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 5, ChannelIDs: []string{"general", "memes"}})
	ctx := context.Background()

	for _, tc := range []struct {
		channel string
		want    int64
	}{
		{"random", 0},
		{"", 0},
		{"general", 1},
		{"memes", 2},
	} {
		_, err := h.engine.UpdateProgress(ctx, Activity{
			CommunityID: testCommunity, UserID: testUser, Type: msgSent, Amount: 1, ChannelID: tc.channel,
		})
		require.NoError(t, err)
		rec, err := h.engine.store.get(ctx, q.ID, testUser)
		if tc.want == 0 {
			assert.ErrorIs(t, err, ErrProgressNotFound, "channel %q", tc.channel)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, rec.CurrentProgress, "channel %q", tc.channel)
	}
}

func TestUpdateProgress_CooldownAndCap(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 1, CooldownHours: intPtr(2), MaxCompletions: intPtr(2)})

	res := h.send(t, testUser, 1)
	require.Len(t, res.Completed, 1)

	h.clock.Advance(time.Hour)
	res = h.send(t, testUser, 1)
	assert.Empty(t, res.Advanced, "still cooling down")

	h.clock.Advance(time.Hour)
	res = h.send(t, testUser, 1)
	require.Len(t, res.Completed, 1, "cooldown over, quest re-armed")
	assert.Equal(t, 2, res.Completed[0].CompletionNumber)

	h.clock.Advance(24 * time.Hour)
	res = h.send(t, testUser, 1)
	assert.Empty(t, res.Advanced, "cap reached")

	rec := h.record(t, q.ID, testUser)
	assert.Equal(t, 2, rec.CompletionCount)
	require.NotNil(t, rec.LastCompletedAt)
	assert.True(t, rec.LastCompletedAt.Equal(baseTime.Add(2*time.Hour)))
	assert.Len(t, h.completions(t, q.ID, testUser), 2)
}

func TestUpdateProgress_CappedQuestRearmsWithoutCooldown(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 2, MaxCompletions: intPtr(3)})

	for i := 0; i < 10; i++ {
		h.send(t, testUser, 1)
	}
	rec := h.record(t, q.ID, testUser)
	assert.Equal(t, 3, rec.CompletionCount)
	assert.True(t, rec.Completed)

	log := h.completions(t, q.ID, testUser)
	require.Len(t, log, 3)
	for i, e := range log {
		assert.Equal(t, i+1, e.CompletionNumber)
	}
}

func TestUpdateProgress_PeriodicWaitsForReset(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 1, ResetType: model.ResetDaily})

	res := h.send(t, testUser, 1)
	require.Len(t, res.Completed, 1)
	rec := h.record(t, q.ID, testUser)
	require.NotNil(t, rec.ResetAt)
	assert.True(t, rec.ResetAt.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)))

	res = h.send(t, testUser, 1)
	assert.Empty(t, res.Advanced, "awaiting reset")

	h.clock.Set(time.Date(2026, 3, 5, 0, 30, 0, 0, time.UTC))
	sweep, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Reset)

	res = h.send(t, testUser, 1)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, 2, res.Completed[0].CompletionNumber)
}

func TestUpdateProgress_TargetSnapshotSurvivesEdit(t *testing.T) {
	h := newHarness(t)
	in := QuestInput{ActivityType: msgSent, Name: "Chatterbox", TargetCount: 5}
	q := h.create(t, in)

	h.send(t, testUser, 1)
	in.TargetCount = 2
	_, err := h.catalog.UpdateQuest(context.Background(), testCommunity, q.ID, in)
	require.NoError(t, err)

	res := h.send(t, testUser, 1)
	assert.Empty(t, res.Completed)
	rec := h.record(t, q.ID, testUser)
	assert.Equal(t, int64(2), rec.CurrentProgress)
	assert.Equal(t, int64(5), rec.TargetProgress)
}

func TestUpdateProgress_ConcurrentEventsCompleteOnce(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 1, RewardCurrency: 50})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.UpdateProgress(context.Background(), Activity{
				CommunityID: testCommunity, UserID: testUser, Type: msgSent, Amount: 1,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec := h.record(t, q.ID, testUser)
	assert.True(t, rec.Completed)
	assert.Equal(t, 1, rec.CompletionCount)
	assert.Len(t, h.completions(t, q.ID, testUser), 1)
	assert.Len(t, h.currency.Calls(), 1)
}

func TestRecordActivity_QueuedAndDrained(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 10})
	h.engine.Start()

	for i := 0; i < 4; i++ {
		assert.True(t, h.engine.RecordActivity(context.Background(), Activity{
			CommunityID: testCommunity, UserID: testUser, Type: msgSent, Amount: 1,
		}))
	}
	require.NoError(t, h.engine.Stop(context.Background()))

	assert.Equal(t, int64(4), h.record(t, q.ID, testUser).CurrentProgress)
	assert.False(t, h.engine.RecordActivity(context.Background(), Activity{
		CommunityID: testCommunity, UserID: testUser, Type: msgSent,
	}), "stopped engine rejects activity")
}

func TestRecordActivity_Rejections(t *testing.T) {
	h := newHarness(t)
	h.create(t, QuestInput{})
	ctx := context.Background()

	assert.False(t, h.engine.RecordActivity(ctx, Activity{CommunityID: testCommunity, Type: msgSent}), "missing user")
	assert.False(t, h.engine.RecordActivity(ctx, Activity{
		CommunityID: testCommunity, UserID: testUser, Type: "voice_minutes",
	}), "untracked activity type")
	assert.False(t, h.engine.RecordActivity(ctx, Activity{
		CommunityID: "guild-2", UserID: testUser, Type: msgSent,
	}), "other community")
}

func TestRecordActivity_HookCanDropOrRewrite(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 100})
	h.hooks.Register(hook.BeforeActivityRecord, 0, "filter", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		a := data.(Activity)
		if a.UserID == "bot" {
			return data, hook.ErrInterrupt
		}
		a.Amount *= 10
		return a, nil
	})
	h.engine.Start()
	ctx := context.Background()

	assert.False(t, h.engine.RecordActivity(ctx, Activity{CommunityID: testCommunity, UserID: "bot", Type: msgSent}))
	assert.True(t, h.engine.RecordActivity(ctx, Activity{CommunityID: testCommunity, UserID: testUser, Type: msgSent, Amount: 2}))
	require.NoError(t, h.engine.Stop(ctx))

	assert.Equal(t, int64(20), h.record(t, q.ID, testUser).CurrentProgress)
	_, err := h.engine.store.get(ctx, q.ID, "bot")
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestRecordActivity_FullQueueDrops(t *testing.T) {
	h := newHarness(t)
	h.create(t, QuestInput{})
	e := NewEngine(h.db, h.gate, h.dispatcher, nil, EngineConfig{QueueSize: 2, Now: h.clock.Now}, nopLogger())
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	a := Activity{CommunityID: testCommunity, UserID: testUser, Type: msgSent}
	ctx := context.Background()
	assert.True(t, e.RecordActivity(ctx, a))
	assert.True(t, e.RecordActivity(ctx, a))
	assert.False(t, e.RecordActivity(ctx, a), "queue is full and no worker runs")
}

func TestGateReason(t *testing.T) {
	now := baseTime
	earlier := now.Add(-time.Hour)
	daily := &model.Quest{ResetType: model.ResetDaily}
	never := &model.Quest{ResetType: model.ResetNever}
	capped := &model.Quest{ResetType: model.ResetNever, MaxCompletions: intPtr(1), CooldownHours: intPtr(2)}
	gated := &model.Quest{ResetType: model.ResetNever, PrerequisiteIDs: []int64{7}, ChannelIDs: []string{"c1"}}

	cases := []struct {
		name    string
		q       *model.Quest
		rec     *model.QuestProgress
		done    map[int64]bool
		channel string
		want    string
	}{
		{"fresh", never, nil, nil, "", ""},
		{"terminal", never, &model.QuestProgress{Completed: true, CompletionCount: 1}, nil, "", "terminal"},
		{"cap", capped, &model.QuestProgress{Completed: true, CompletionCount: 1, LastCompletedAt: &earlier}, nil, "", "completion cap reached"},
		{"prerequisite", gated, nil, map[int64]bool{}, "c1", "prerequisites not met"},
		{"channel", gated, nil, map[int64]bool{7: true}, "c2", "channel filter"},
		{"passes", gated, nil, map[int64]bool{7: true}, "c1", ""},
		{"awaiting reset", daily, &model.QuestProgress{Completed: true, CompletionCount: 1}, nil, "", "awaiting reset"},
		{"open periodic", daily, &model.QuestProgress{CompletionCount: 4}, nil, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, gateReason(tc.q, tc.rec, tc.done, tc.channel, now))
		})
	}

	cooling := &model.Quest{ResetType: model.ResetNever, MaxCompletions: intPtr(5), CooldownHours: intPtr(2)}
	rec := &model.QuestProgress{Completed: true, CompletionCount: 1, LastCompletedAt: &earlier}
	assert.Equal(t, "cooldown", gateReason(cooling, rec, nil, "", now))
	assert.Equal(t, "", gateReason(cooling, rec, nil, "", now.Add(time.Hour)))
}
