package rest

import (
	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/questengine/middleware"
	"golang.org/x/time/rate"
)

// Handlers bundles the REST handlers mounted by RegisterRoutes.
type Handlers struct {
	Events *EventsHandler
	Member *MemberHandler
	Admin  *AdminHandler
}

// RouteConfig carries the credentials and limits applied to route groups.
type RouteConfig struct {
	JWTSecret string
	AdminKey  string
	IngestKey string
	AdminIPs  []string
	// RateRPS and RateBurst bound request rates per client IP on ingest and
	// per member on the read API. Zero disables limiting.
	RateRPS   float64
	RateBurst int
}

// RegisterRoutes mounts the quest API on r.
func RegisterRoutes(r gin.IRouter, h Handlers, cfg RouteConfig) {
	api := r.Group("/api")

	eventsG := api.Group("/events")
	if cfg.RateRPS > 0 {
		eventsG.Use(mw.RateLimit(rate.Limit(cfg.RateRPS), cfg.RateBurst))
	}
	eventsG.Use(mw.IngestAuth(cfg.IngestKey))
	eventsG.POST("/activity", h.Events.Activity)

	memberG := api.Group("/communities/:cid")
	memberG.Use(mw.Auth(cfg.JWTSecret))
	if cfg.RateRPS > 0 {
		memberG.Use(mw.RateLimitBy(rate.Limit(cfg.RateRPS), cfg.RateBurst, mw.ByUser))
	}
	memberG.GET("/quests", h.Member.Quests)
	memberG.GET("/quests/recent", h.Member.Recent)
	memberG.GET("/leaderboard", h.Member.Leaderboard)
	memberG.GET("/wallet", h.Member.Wallet)
	memberG.GET("/wallet/transactions", h.Member.Transactions)

	adminG := api.Group("/admin")
	adminG.Use(mw.IPWhitelist(cfg.AdminIPs), mw.AdminAuth(cfg.AdminKey))
	adminG.GET("/metrics", h.Admin.Metrics)
	adminG.GET("/scheduler", h.Admin.ListSchedulerTasks)
	adminG.POST("/scheduler/:name/run", h.Admin.RunSchedulerTask)
	adminG.POST("/quests/reset", h.Admin.ForceReset)
	adminG.DELETE("/quests/reset", h.Admin.CancelReset)

	questsG := adminG.Group("/communities/:cid/quests")
	questsG.GET("", h.Admin.ListQuests)
	questsG.POST("", h.Admin.CreateQuest)
	questsG.GET("/:id", h.Admin.GetQuest)
	questsG.PUT("/:id", h.Admin.UpdateQuest)
	questsG.DELETE("/:id", h.Admin.DeleteQuest)
	questsG.POST("/:id/enable", h.Admin.EnableQuest)
	questsG.POST("/:id/disable", h.Admin.DisableQuest)
	questsG.POST("/:id/complete", h.Admin.CompleteQuest)
	questsG.GET("/:id/completions", h.Admin.Completions)
}
