package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questengine/api/rest"
	"github.com/kasuganosora/questengine/audit"
	"github.com/kasuganosora/questengine/game/ledger"
	"github.com/kasuganosora/questengine/game/notify"
	"github.com/kasuganosora/questengine/game/quest"
	mw "github.com/kasuganosora/questengine/middleware"
	"github.com/kasuganosora/questengine/plugin/hook"
	"github.com/kasuganosora/questengine/scheduler"
	"github.com/kasuganosora/questengine/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jwtSecret = "test-secret"
	adminKey  = "admin-key"
	ingestKey = "ingest-key"
	guild     = "guild-1"
)

type env struct {
	r       *gin.Engine
	db      *gorm.DB
	catalog *quest.Catalog
	engine  *quest.Engine
	ledger  *ledger.Service
	audit   *audit.Service
	sched   *scheduler.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)

	hooks := hook.NewHookCenter()
	gate := quest.NewGate(db, c, time.Minute, log)
	catalog := quest.NewCatalog(db, gate, log)
	board := quest.NewBoard(db, c, 10, log)
	wallet := ledger.NewService(db, log)
	dispatcher := quest.NewDispatcher(db, quest.DispatcherConfig{
		Collaborators: quest.Collaborators{
			Currency:   wallet.Currency(),
			Experience: wallet.Experience(),
			Roles:      wallet.Roles(),
			Items:      wallet.Items(),
			Notifier:   notify.New(ps, log),
		},
		Hooks: hooks,
		Board: board,
	}, log)
	engine := quest.NewEngine(db, gate, dispatcher, hooks, quest.EngineConfig{Workers: 2, QueueSize: 64}, log)
	sweeper := quest.NewSweeper(db, c, gate, hooks, quest.SweeperConfig{}, log)
	sched, err := scheduler.New(log)
	require.NoError(t, err)
	auditSvc := audit.New(db, log)
	t.Cleanup(func() {
		sched.Stop()
		_ = engine.Stop(context.Background())
		auditSvc.Stop(context.Background())
	})

	r := gin.New()
	r.Use(mw.TraceID())
	rest.RegisterRoutes(r, rest.Handlers{
		Events: rest.NewEventsHandler(engine, log),
		Member: rest.NewMemberHandler(engine, board, wallet, log),
		Admin:  rest.NewAdminHandler(db, catalog, engine, sweeper, sched, auditSvc, log),
	}, rest.RouteConfig{
		JWTSecret: jwtSecret,
		AdminKey:  adminKey,
		IngestKey: ingestKey,
	})
	return &env{r: r, db: db, catalog: catalog, engine: engine, ledger: wallet, audit: auditSvc, sched: sched}
}

func (e *env) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	return e.do(method, path, body, map[string]string{mw.AdminKeyHeader: adminKey, mw.ActorHeader: "mod-alice"})
}

func (e *env) ingest(body interface{}) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/api/events/activity", body, map[string]string{mw.IngestKeyHeader: ingestKey})
}

func (e *env) member(t *testing.T, userID, path string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := mw.GenerateToken(userID, jwtSecret, time.Hour)
	require.NoError(t, err)
	return e.do(http.MethodGet, path, nil, map[string]string{"Authorization": "Bearer " + token})
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// createQuest creates a quest through the admin API and returns its id.
func (e *env) createQuest(t *testing.T, body map[string]interface{}) int64 {
	t.Helper()
	w := e.admin(http.MethodPost, "/api/admin/communities/"+guild+"/quests", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var q struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &q)
	return q.ID
}
