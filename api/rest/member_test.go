package rest_test

import (
	"net/http"
	"testing"

	"github.com/kasuganosora/questengine/game/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberRoutes_RequireToken(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/quests", "/quests/recent", "/leaderboard", "/wallet"} {
		w := e.do(http.MethodGet, "/api/communities/"+guild+path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	w := e.do(http.MethodGet, "/api/communities/"+guild+"/quests", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMemberQuests(t *testing.T) {
	e := newEnv(t)
	first := e.createQuest(t, map[string]interface{}{"name": "First", "category": "daily", "activity_type": "message_sent", "target_count": 1})
	e.createQuest(t, map[string]interface{}{
		"name": "Second", "category": "daily", "activity_type": "reaction", "target_count": 1,
		"prerequisite_quest_ids": []int64{first},
	})
	e.createQuest(t, map[string]interface{}{"name": "Hidden", "activity_type": "message_sent", "target_count": 1, "visible": false})

	list := func(uid, query string) []quest.UserQuest {
		t.Helper()
		w := e.member(t, uid, "/api/communities/"+guild+"/quests"+query)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Quests []quest.UserQuest `json:"quests"`
		}
		decode(t, w, &resp)
		return resp.Quests
	}

	quests := list("u1", "")
	require.Len(t, quests, 2)
	assert.Equal(t, "First", quests[0].Quest.Name)
	assert.False(t, quests[0].Locked)
	assert.True(t, quests[1].Locked)

	require.Equal(t, http.StatusOK,
		e.admin(http.MethodPost, questPath(first, "/complete"), map[string]string{"user_id": "u1"}).Code)

	quests = list("u1", "")
	require.Len(t, quests, 1, "finished one-shot quests are hidden by default")
	assert.Equal(t, "Second", quests[0].Quest.Name)
	assert.False(t, quests[0].Locked)

	quests = list("u1", "?include_completed=true")
	require.Len(t, quests, 2)
	require.NotNil(t, quests[0].Progress)
	assert.True(t, quests[0].Progress.Completed)

	assert.Empty(t, list("u2", "?category=weekly"))
}

func TestMemberLeaderboardAndRecent(t *testing.T) {
	e := newEnv(t)
	id := e.createQuest(t, map[string]interface{}{
		"name": "Chat", "emoji": "💬", "activity_type": "message_sent", "target_count": 1, "max_completions": 5,
	})
	for _, uid := range []string{"u1", "u1", "u2"} {
		require.Equal(t, http.StatusOK,
			e.admin(http.MethodPost, questPath(id, "/complete"), map[string]string{"user_id": uid}).Code)
	}

	var board struct {
		Leaderboard []quest.LeaderEntry `json:"leaderboard"`
	}
	w := e.member(t, "u2", "/api/communities/"+guild+"/leaderboard")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &board)
	assert.Equal(t, []quest.LeaderEntry{
		{Rank: 1, UserID: "u1", Completions: 2},
		{Rank: 2, UserID: "u2", Completions: 1},
	}, board.Leaderboard)

	var feed struct {
		Recent []quest.FeedEntry `json:"recent"`
	}
	w = e.member(t, "u2", "/api/communities/"+guild+"/quests/recent?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &feed)
	require.Len(t, feed.Recent, 2)
	assert.Equal(t, "u2", feed.Recent[0].UserID)
	assert.Equal(t, "Chat", feed.Recent[0].QuestName)
	assert.Equal(t, "💬", feed.Recent[0].Emoji)
}

func TestMemberWallet(t *testing.T) {
	e := newEnv(t)
	id := e.createQuest(t, map[string]interface{}{
		"name": "Chat", "activity_type": "message_sent", "target_count": 1,
		"reward_currency": 50, "reward_xp": 20, "reward_role_id": "regular", "reward_item_id": "badge",
	})

	var wallet struct {
		Coins int64    `json:"coins"`
		XP    int64    `json:"xp"`
		Roles []string `json:"roles"`
		Items []struct {
			ItemID string `json:"item_id"`
			Qty    int    `json:"qty"`
		} `json:"items"`
	}
	w := e.member(t, "u1", "/api/communities/"+guild+"/wallet")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &wallet)
	assert.Zero(t, wallet.Coins)
	assert.Empty(t, wallet.Roles)

	require.Equal(t, http.StatusOK,
		e.admin(http.MethodPost, questPath(id, "/complete"), map[string]string{"user_id": "u1"}).Code)

	w = e.member(t, "u1", "/api/communities/"+guild+"/wallet")
	require.Equal(t, http.StatusOK, w.Code)
	wallet.Roles, wallet.Items = nil, nil
	decode(t, w, &wallet)
	assert.Equal(t, int64(50), wallet.Coins)
	assert.Equal(t, int64(20), wallet.XP)
	assert.Equal(t, []string{"regular"}, wallet.Roles)
	require.Len(t, wallet.Items, 1)
	assert.Equal(t, "badge", wallet.Items[0].ItemID)
	assert.Equal(t, 1, wallet.Items[0].Qty)
}

func TestMemberWalletTransactions(t *testing.T) {
	e := newEnv(t)
	id := e.createQuest(t, map[string]interface{}{
		"name": "Chat", "activity_type": "message_sent", "target_count": 1,
		"reward_currency": 50, "reward_xp": 20,
	})
	require.Equal(t, http.StatusOK,
		e.admin(http.MethodPost, questPath(id, "/complete"), map[string]string{"user_id": "u1"}).Code)

	type tx struct {
		Kind   string `json:"kind"`
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	var body struct {
		Transactions []tx `json:"transactions"`
	}
	w := e.member(t, "u1", "/api/communities/"+guild+"/wallet/transactions")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &body)
	require.Len(t, body.Transactions, 2)
	assert.ElementsMatch(t, []int64{50, 20}, []int64{body.Transactions[0].Amount, body.Transactions[1].Amount})

	body.Transactions = nil
	w = e.member(t, "u1", "/api/communities/"+guild+"/wallet/transactions?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Len(t, body.Transactions, 1)

	body.Transactions = nil
	w = e.member(t, "u2", "/api/communities/"+guild+"/wallet/transactions")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Empty(t, body.Transactions)
}
