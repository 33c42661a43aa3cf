package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questengine/game/ledger"
	"github.com/kasuganosora/questengine/game/quest"
	mw "github.com/kasuganosora/questengine/middleware"
	"go.uber.org/zap"
)

const leaderboardMax = 100

// MemberHandler serves the member-facing read API.
// Routes should be protected by Auth middleware.
type MemberHandler struct {
	engine *quest.Engine
	board  *quest.Board
	wallet *ledger.Service
	logger *zap.Logger
}

// NewMemberHandler creates a MemberHandler. wallet may be nil when rewards
// are delegated to an external ledger.
func NewMemberHandler(engine *quest.Engine, board *quest.Board, wallet *ledger.Service, logger *zap.Logger) *MemberHandler {
	return &MemberHandler{engine: engine, board: board, wallet: wallet, logger: logger}
}

// Quests lists the community's quests with the caller's progress.
// GET /api/communities/:cid/quests?category=&include_completed=
func (h *MemberHandler) Quests(c *gin.Context) {
	includeCompleted, _ := strconv.ParseBool(c.Query("include_completed"))
	list, err := h.engine.GetUserQuests(c.Request.Context(),
		c.Param("cid"), mw.GetUserID(c), c.Query("category"), includeCompleted)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": list})
}

// Leaderboard returns the members with the most completions.
// GET /api/communities/:cid/leaderboard?limit=20
func (h *MemberHandler) Leaderboard(c *gin.Context) {
	top, err := h.board.Top(c.Request.Context(), c.Param("cid"), queryLimit(c, 20, leaderboardMax))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": top})
}

// Recent returns the latest completions in the community.
// GET /api/communities/:cid/quests/recent?limit=
func (h *MemberHandler) Recent(c *gin.Context) {
	feed, err := h.board.Recent(c.Request.Context(), c.Param("cid"), queryLimit(c, 0, leaderboardMax))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recent": feed})
}

// Wallet returns the caller's balances, roles and items.
// GET /api/communities/:cid/wallet
func (h *MemberHandler) Wallet(c *gin.Context) {
	if h.wallet == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not available"})
		return
	}
	ctx := c.Request.Context()
	cid, uid := c.Param("cid"), mw.GetUserID(c)

	w, err := h.wallet.Wallet(ctx, cid, uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	roles, err := h.wallet.Roles().List(ctx, cid, uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	items, err := h.wallet.Items().List(ctx, cid, uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"coins": w.Coins,
		"xp":    w.XP,
		"roles": roles,
		"items": items,
	})
}

// Transactions lists the member's wallet credits, newest first.
// GET /api/communities/:cid/wallet/transactions?limit=
func (h *MemberHandler) Transactions(c *gin.Context) {
	if h.wallet == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not available"})
		return
	}
	txs, err := h.wallet.Transactions(c.Request.Context(), c.Param("cid"), mw.GetUserID(c), queryLimit(c, 50, 200))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}
