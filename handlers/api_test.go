package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-dispatch/brackets"
	"github.com/Dosada05/tournament-dispatch/handlers"
	"github.com/Dosada05/tournament-dispatch/logging"
	"github.com/Dosada05/tournament-dispatch/middleware"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
	"github.com/Dosada05/tournament-dispatch/routes"
	"github.com/Dosada05/tournament-dispatch/services"
)

var secret = []byte("handlers-test-secret")

var (
	organizer = models.Principal{UserID: 10, Role: models.RoleOrganizer, Device: "desk"}
	stranger  = models.Principal{UserID: 11, Role: models.RoleOrganizer}
	player    = models.Principal{UserID: 1, Role: models.RolePlayer}
)

type api struct {
	t      *testing.T
	router *chi.Mux
	store  *repositories.MemoryStore
	hub    *brackets.Hub
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := logging.Discard()
	store := repositories.NewMemoryStore()
	hub := brackets.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	tables := services.NewTableService(store, logger, services.TableServiceOptions{})
	queue := services.NewQueueService(store, logger, services.QueueServiceOptions{})
	defaults := models.DefaultSchedulingConfig()
	defaults.PollInterval = time.Hour
	defaults.AutoAssign = false
	scheduler := services.NewSchedulerService(store, tables, queue, services.NewSchedulerRegistry(), hub, logger, services.SchedulerOptions{Defaults: defaults})
	matches := services.NewMatchService(store, tables, hub, logger, time.Now)
	matches.SetCompletionListener(scheduler)
	tournaments := services.NewTournamentService(store, scheduler, nil, logger)

	t.Cleanup(func() {
		_ = scheduler.StopAllSchedulers(context.Background())
		cancel()
	})

	router := chi.NewRouter()
	routes.SetupRoutes(router, routes.Options{JWTSecret: secret, Logger: logger},
		handlers.NewTableHandler(tables, scheduler),
		handlers.NewMatchHandler(matches),
		handlers.NewSchedulerHandler(scheduler, queue, tournaments),
		handlers.NewTournamentHandler(tournaments),
		handlers.NewWebSocketHandler(hub, tournaments, nil),
	)
	return &api{t: t, router: router, store: store, hub: hub}
}

func token(t *testing.T, p models.Principal) string {
	t.Helper()
	raw, err := middleware.NewToken(secret, p, nil)
	require.NoError(t, err)
	return raw
}

// do sends body as JSON and decodes the response into a generic map.
func (a *api) do(p *models.Principal, method, path string, body any) (int, map[string]any) {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+token(a.t, *p))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *api) seedMatch(tournamentID, p1, p2 int) int {
	a.t.Helper()
	m := &models.Match{TournamentID: tournamentID, Round: 1, State: models.MatchReady, Player1ID: &p1, Player2ID: &p2}
	require.NoError(a.t, a.store.Matches().Create(context.Background(), m))
	return m.ID
}

func (a *api) createTournament() int {
	a.t.Helper()
	code, body := a.do(&organizer, http.MethodPost, "/tournaments", map[string]any{"name": "Spring Open"})
	require.Equal(a.t, http.StatusCreated, code, body)
	id := int(body["tournament"].(map[string]any)["id"].(float64))

	code, body = a.do(&organizer, http.MethodPatch, fmt.Sprintf("/tournaments/%d/status", id), map[string]any{"status": "active"})
	require.Equal(a.t, http.StatusOK, code, body)
	return id
}

func (a *api) createTables(tournamentID int, labels ...string) []int {
	a.t.Helper()
	code, body := a.do(&organizer, http.MethodPost, fmt.Sprintf("/tournaments/%d/tables/bulk", tournamentID), map[string]any{"labels": labels})
	require.Equal(a.t, http.StatusCreated, code, body)
	var ids []int
	for _, raw := range body["tables"].([]any) {
		ids = append(ids, int(raw.(map[string]any)["id"].(float64)))
	}
	return ids
}

func TestAPI_MatchLifecycle(t *testing.T) {
	a := newAPI(t)
	tid := a.createTournament()
	tables := a.createTables(tid, "T1", "T2")
	matchID := a.seedMatch(tid, 1, 2)

	code, body := a.do(&organizer, http.MethodPost, fmt.Sprintf("/tables/%d/assign", tables[0]), map[string]any{"match_id": matchID})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "T1", body["assignment"].(map[string]any)["table_label"])

	code, body = a.do(&organizer, http.MethodPost, fmt.Sprintf("/tables/%d/assign", tables[1]), map[string]any{"match_id": matchID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "double_booking", body["conflict"])

	code, body = a.do(&organizer, http.MethodPost, fmt.Sprintf("/matches/%d/transition", matchID), map[string]any{"to": "completed", "winner_id": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "assigned", body["from"])
	assert.Equal(t, "completed", body["to"])

	code, body = a.do(&organizer, http.MethodPost, fmt.Sprintf("/matches/%d/transition", matchID), map[string]any{"to": "active", "dry_run": true})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["guard"].(map[string]any)["allowed"])

	code, body = a.do(&organizer, http.MethodPost, fmt.Sprintf("/matches/%d/transition", matchID), map[string]any{"to": "active"})
	require.Equal(t, http.StatusOK, code, body)
	revision := body["match"].(map[string]any)["revision"].(float64)

	code, _ = a.do(&organizer, http.MethodPut, fmt.Sprintf("/matches/%d/score", matchID), map[string]any{"score": map[string]int{"p1": 2}, "expected_revision": revision - 1})
	assert.Equal(t, http.StatusConflict, code)

	code, body = a.do(&organizer, http.MethodPost, fmt.Sprintf("/matches/%d/transition", matchID), map[string]any{"to": "completed", "winner_id": 2})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "completed", body["match"].(map[string]any)["state"])
	assert.NotContains(t, body["match"].(map[string]any), "table_id")

	code, body = a.do(&organizer, http.MethodGet, fmt.Sprintf("/tables/%d/availability", tables[0]), nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["availability"].(map[string]any)["available"])

	code, body = a.do(&organizer, http.MethodGet, fmt.Sprintf("/matches/%d/events", matchID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["events"], 4)
}

func TestAPI_Scheduler(t *testing.T) {
	a := newAPI(t)
	tid := a.createTournament()
	a.createTables(tid, "T1")
	first := a.seedMatch(tid, 1, 2)
	second := a.seedMatch(tid, 3, 4)

	code, body := a.do(&organizer, http.MethodPost, fmt.Sprintf("/tournaments/%d/scheduler/trigger", tid), nil)
	require.Equal(t, http.StatusOK, code, body)
	assignments := body["cycle"].(map[string]any)["assignments"].([]any)
	require.Len(t, assignments, 1)
	assert.EqualValues(t, first, assignments[0].(map[string]any)["match_id"])

	code, body = a.do(&organizer, http.MethodGet, fmt.Sprintf("/tournaments/%d/etas", tid), nil)
	require.Equal(t, http.StatusOK, code, body)
	etas := body["etas"].([]any)
	require.Len(t, etas, 1)
	assert.EqualValues(t, second, etas[0].(map[string]any)["match_id"])

	code, body = a.do(&organizer, http.MethodGet, fmt.Sprintf("/tournaments/%d/scheduler/stats", tid), nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["scheduler"].(map[string]any)["running"], "activation starts the loop")

	code, _ = a.do(&organizer, http.MethodPost, fmt.Sprintf("/tournaments/%d/scheduler/stop", tid), nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(&organizer, http.MethodPost, fmt.Sprintf("/tournaments/%d/scheduler/stop", tid), nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = a.do(&organizer, http.MethodPost, fmt.Sprintf("/tournaments/%d/scheduler/start", tid), map[string]any{"poll_interval_ms": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(&organizer, http.MethodGet, "/schedulers", nil)
	assert.Equal(t, http.StatusForbidden, code)
	admin := models.Principal{UserID: 99, Role: models.RoleAdmin}
	code, body = a.do(&admin, http.MethodGet, "/schedulers", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["tournament_ids"])
}

func TestAPI_AccessControl(t *testing.T) {
	a := newAPI(t)
	tid := a.createTournament()
	path := fmt.Sprintf("/tournaments/%d", tid)

	code, _ := a.do(nil, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.do(&stranger, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, code, "foreign tournaments are invisible")

	code, _ = a.do(&player, http.MethodGet, path+"/tables", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(&player, http.MethodPost, "/tournaments", map[string]any{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = a.do(&stranger, http.MethodPatch, path+"/status", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(&organizer, http.MethodGet, "/tournaments/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_Validation(t *testing.T) {
	a := newAPI(t)
	tid := a.createTournament()

	code, body := a.do(&organizer, http.MethodPost, fmt.Sprintf("/tournaments/%d/tables/bulk", tid), map[string]any{"labels": []string{"T1", "T1"}})
	assert.Equal(t, http.StatusConflict, code, body)

	code, body = a.do(&organizer, http.MethodPost, fmt.Sprintf("/tournaments/%d/tables", tid), map[string]any{"label": "T1", "color": "red"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unknown key")

	code, _ = a.do(&organizer, http.MethodPatch, fmt.Sprintf("/tournaments/%d/status", tid), map[string]any{"status": "soon"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(&organizer, http.MethodGet, fmt.Sprintf("/tournaments/%d/finalists?n=two", tid), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = a.do(&organizer, http.MethodGet, fmt.Sprintf("/tournaments/%d/finalists?n=2&tiebreak=seed", tid), nil)
	require.Equal(t, http.StatusOK, code, body)

	matchID := a.seedMatch(tid, 1, 2)
	code, _ = a.do(&organizer, http.MethodPost, fmt.Sprintf("/matches/%d/transition", matchID), map[string]any{"to": "warmup"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(&organizer, http.MethodPatch, fmt.Sprintf("/tournaments/%d/status", tid), map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(&organizer, http.MethodPatch, fmt.Sprintf("/tournaments/%d/status", tid), map[string]any{"status": "active"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestAPI_PublicEndpoints(t *testing.T) {
	a := newAPI(t)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))
}

func TestAPI_WebSocketDeliversAssignment(t *testing.T) {
	a := newAPI(t)
	tid := a.createTournament()
	tables := a.createTables(tid, "T1")
	matchID := a.seedMatch(tid, player.UserID, 2)

	srv := httptest.NewServer(a.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/me?token=" + token(t, player)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		return a.hub.RoomSize(brackets.UserRoom(player.UserID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	code, body := a.do(&organizer, http.MethodPost, fmt.Sprintf("/tables/%d/assign", tables[0]), map[string]any{"match_id": matchID})
	require.Equal(t, http.StatusOK, code, body)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Type         string         `json:"type"`
		TournamentID int            `json:"tournament_id"`
		Payload      map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "match-assigned", env.Type)
	assert.Equal(t, tid, env.TournamentID)
	assert.EqualValues(t, matchID, env.Payload["match_id"])
	assert.Equal(t, "T1", env.Payload["table_label"])
}
