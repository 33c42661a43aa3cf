package quest

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/questengine/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(list []UserQuest) []string {
	out := make([]string, len(list))
	for i, uq := range list {
		out[i] = uq.Quest.Name
	}
	return out
}

func TestGetUserQuests_OrderAndVisibility(t *testing.T) {
	h := newHarness(t)
	h.create(t, QuestInput{Name: "Weekly two", Category: "weekly", ChainPosition: 2})
	h.create(t, QuestInput{Name: "Daily", Category: "daily"})
	h.create(t, QuestInput{Name: "Weekly one", Category: "weekly", ChainPosition: 1})
	h.create(t, QuestInput{Name: "Secret", Category: "daily", Visible: boolPtr(false)})
	h.create(t, QuestInput{Name: "Off", Category: "daily", Enabled: boolPtr(false)})
	_, err := h.catalog.CreateQuest(context.Background(), "guild-2", QuestInput{ActivityType: msgSent, Name: "Elsewhere", TargetCount: 1})
	require.NoError(t, err)

	list, err := h.engine.GetUserQuests(context.Background(), testCommunity, testUser, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Daily", "Weekly one", "Weekly two"}, names(list))
	for _, uq := range list {
		assert.Nil(t, uq.Progress)
		assert.False(t, uq.Locked)
	}

	weekly, err := h.engine.GetUserQuests(context.Background(), testCommunity, testUser, "weekly", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Weekly one", "Weekly two"}, names(weekly))
}

func TestGetUserQuests_CompletedFiltering(t *testing.T) {
	h := newHarness(t)
	h.create(t, QuestInput{Name: "Once", TargetCount: 1})
	h.create(t, QuestInput{Name: "Every day", TargetCount: 1, ResetType: model.ResetDaily})
	h.create(t, QuestInput{Name: "Long haul", TargetCount: 10})
	h.send(t, testUser, 1)
	ctx := context.Background()

	list, err := h.engine.GetUserQuests(ctx, testCommunity, testUser, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Every day", "Long haul"}, names(list))
	assert.True(t, list[0].Progress.Completed, "completed periodic quests stay listed")
	assert.Equal(t, int64(1), list[1].Progress.CurrentProgress)

	all, err := h.engine.GetUserQuests(ctx, testCommunity, testUser, "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Once", "Every day", "Long haul"}, names(all))
}

func TestGetUserQuests_LockedAndCooldown(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, QuestInput{Name: "First", TargetCount: 1, CooldownHours: intPtr(4), MaxCompletions: intPtr(5)})
	h.create(t, QuestInput{Name: "Second", TargetCount: 1, ActivityType: "reaction", PrerequisiteIDs: []int64{first.ID}})
	ctx := context.Background()

	list, err := h.engine.GetUserQuests(ctx, testCommunity, testUser, "", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[0].Locked)
	assert.True(t, list[1].Locked)
	assert.Nil(t, list[0].CooldownUntil)

	h.send(t, testUser, 1)
	list, err = h.engine.GetUserQuests(ctx, testCommunity, testUser, "", false)
	require.NoError(t, err)
	assert.False(t, list[1].Locked)
	require.NotNil(t, list[0].CooldownUntil)
	assert.True(t, list[0].CooldownUntil.Equal(baseTime.Add(4*time.Hour)))

	h.clock.Advance(5 * time.Hour)
	list, err = h.engine.GetUserQuests(ctx, testCommunity, testUser, "", false)
	require.NoError(t, err)
	assert.Nil(t, list[0].CooldownUntil)
}

func TestManualComplete_WithoutProgress(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 7, RewardCurrency: 50})

	entry, err := h.engine.ManualComplete(context.Background(), testCommunity, q.ID, testUser)
	require.NoError(t, err)
	assert.True(t, entry.Manual)
	assert.Equal(t, int64(7), entry.Progress)
	assert.Equal(t, 1, entry.CompletionNumber)
	assert.Len(t, h.currency.Calls(), 1)

	rec := h.record(t, q.ID, testUser)
	assert.True(t, rec.Completed)
	assert.Equal(t, int64(7), rec.CurrentProgress)
}

func TestManualComplete_PartialProgress(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 5})
	h.send(t, testUser, 2)

	entry, err := h.engine.ManualComplete(context.Background(), testCommunity, q.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.Progress)
	assert.Equal(t, int64(5), h.record(t, q.ID, testUser).CurrentProgress)
}

func TestManualComplete_SkipsPrerequisitesAndCooldown(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, QuestInput{Name: "First", TargetCount: 9})
	gated := h.create(t, QuestInput{Name: "Gated", ActivityType: "reaction", TargetCount: 1,
		PrerequisiteIDs: []int64{first.ID}, CooldownHours: intPtr(24), MaxCompletions: intPtr(3)})
	ctx := context.Background()

	_, err := h.engine.ManualComplete(ctx, testCommunity, gated.ID, testUser)
	require.NoError(t, err)

	// Capped one-shot quests are re-armed even inside their cooldown.
	entry, err := h.engine.ManualComplete(ctx, testCommunity, gated.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.CompletionNumber)
}

func TestManualComplete_Refusals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	once := h.create(t, QuestInput{Name: "Once", TargetCount: 1})
	daily := h.create(t, QuestInput{Name: "Daily", TargetCount: 1, ResetType: model.ResetDaily})
	capped := h.create(t, QuestInput{Name: "Capped", TargetCount: 1, ResetType: model.ResetDaily, MaxCompletions: intPtr(1)})
	h.send(t, testUser, 1)

	_, err := h.engine.ManualComplete(ctx, testCommunity, once.ID, testUser)
	assert.ErrorIs(t, err, ErrNotRepeatable)

	_, err = h.engine.ManualComplete(ctx, testCommunity, daily.ID, testUser)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	_, err = h.engine.ManualComplete(ctx, testCommunity, capped.ID, testUser)
	assert.ErrorIs(t, err, ErrCompletionCapReached)

	_, err = h.engine.ManualComplete(ctx, "guild-2", once.ID, testUser)
	assert.ErrorIs(t, err, ErrQuestNotFound)

	_, err = h.engine.ManualComplete(ctx, testCommunity, 9999, testUser)
	assert.ErrorIs(t, err, ErrQuestNotFound)

	assert.Len(t, h.completions(t, once.ID, testUser), 1)
}

func TestListCompletions(t *testing.T) {
	h := newHarness(t)
	q := h.create(t, QuestInput{TargetCount: 1, MaxCompletions: intPtr(10)})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.send(t, testUser, 1)
		h.clock.Advance(time.Minute)
	}
	h.send(t, "member-2", 1)

	all, err := h.engine.ListCompletions(ctx, testCommunity, q.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "member-2", all[0].UserID, "newest first")

	mine, err := h.engine.ListCompletions(ctx, testCommunity, q.ID, testUser, 2)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, 3, mine[0].CompletionNumber)
	assert.Equal(t, 2, mine[1].CompletionNumber)

	other, err := h.engine.ListCompletions(ctx, "guild-2", q.ID, "", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}
