package handler_test

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

	"tutorhub/backend/internal/api/handler"
	"tutorhub/backend/internal/auth"
	"tutorhub/backend/internal/broker"
	"tutorhub/backend/internal/chathub"
	"tutorhub/backend/internal/models"
	"tutorhub/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

type testEnv struct {
	router   *gin.Engine
	hub      *chathub.ManagerService
	resolver *auth.Resolver
}

func newTestEnv(t *testing.T, authRequired bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := storage.NewStorageService(db, nil)
	require.NoError(t, store.Migrate())

	resolver := auth.NewResolver(testSecret, "tutorhub")
	hub := chathub.NewManagerService(store, broker.NewLocal(0), resolver, chathub.Options{
		MirrorQueue: -1,
		RequireAuth: authRequired,
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, hub.Start(ctx))
	t.Cleanup(func() {
		cancel()
		<-hub.Stopped()
	})

	router := gin.New()
	h := handler.NewHandler(hub, resolver, handler.NewHealthChecker(store, nil, nil), authRequired)
	h.RegisterRoutes(router)

	return &testEnv{router: router, hub: hub, resolver: resolver}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) bearer(t *testing.T, identity string) map[string]string {
	t.Helper()
	token, err := e.resolver.Issue(identity, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

type errorBody struct {
	Error models.ErrorPayload `json:"error"`
}

func TestPostMessage_ThenHistory(t *testing.T) {
	env := newTestEnv(t, false)
	asTutor := map[string]string{"X-Identity": "tutor-1"}

	w := env.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": "student-1", "text": "hi"}, asTutor)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.MessageCreated
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "tutor-1", created.SenderID)
	assert.NotZero(t, created.ID)

	w = env.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": "tutor-1", "text": "hey"},
		map[string]string{"X-Identity": "student-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/messages/student-1/tutor-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Text)
	assert.Equal(t, "hey", history[1].Text)
}

func TestGetHistory_EmptyConversation(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/messages/a/b", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestPostMessage_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name     string
		body     any
		headers  map[string]string
		wantCode int
		wantKind string
	}{
		{name: "no identity", body: gin.H{"receiver_id": "u2", "text": "hi"}, wantCode: http.StatusForbidden, wantKind: "unauthorized"},
		{name: "missing text", body: gin.H{"receiver_id": "u2"}, headers: map[string]string{"X-Identity": "u1"}, wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "blank text", body: gin.H{"receiver_id": "u2", "text": "   "}, headers: map[string]string{"X-Identity": "u1"}, wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "bad receiver", body: gin.H{"receiver_id": "a b", "text": "hi"}, headers: map[string]string{"X-Identity": "u1"}, wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "bad identity header", body: gin.H{"receiver_id": "u2", "text": "hi"}, headers: map[string]string{"X-Identity": "a/b"}, wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "garbage token", body: gin.H{"receiver_id": "u2", "text": "hi"}, headers: map[string]string{"Authorization": "Bearer nope"}, wantCode: http.StatusUnauthorized, wantKind: "auth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/messages", tt.body, tt.headers)

			assert.Equal(t, tt.wantCode, w.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body.Error.Kind)
		})
	}

	w := env.do(t, http.MethodGet, "/api/messages/u1/u2", nil, nil)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/api/messages/u1/u2", nil, map[string]string{"X-Identity": "u1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/messages/u1/u2", nil, env.bearer(t, "u1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/messages/u1/u2", nil, env.bearer(t, "u3"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/messages", gin.H{"receiver_id": "u2", "text": "hello"}, env.bearer(t, "u1"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/messages/conversations/u2", nil, env.bearer(t, "u2"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"identity":"u2","correspondents":["u1"]}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/messages/conversations/u2", nil, env.bearer(t, "u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPresenceEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/presence/nobody", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"identity":"nobody","online":false,"last_seen":null,"version":0}`, w.Body.String())

	client := &nopClient{send: make(chan models.Envelope, 8)}
	id := env.hub.OnConnect(client)
	require.NoError(t, env.hub.OnAnnounce(id, "tutor-1"))

	w = env.do(t, http.MethodGet, "/api/presence/tutor-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.StatusChanged
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Online)
	assert.Equal(t, uint64(1), status.Version)

	w = env.do(t, http.MethodGet, "/api/presence", nil, nil)
	assert.JSONEq(t, `{"online":["tutor-1"]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var status handler.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "connected", status.Database)
	assert.Equal(t, "disabled", status.Redis)
	assert.Equal(t, "disabled", status.NATS)
}

func TestServeWebSocket_TokenAutoAnnounce(t *testing.T) {
	env := newTestEnv(t, true)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	token, err := env.resolver.Issue("tutor-9", time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var hello models.Envelope
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, models.EventConnected, hello.Type)
	assert.NotEmpty(t, hello.ConnectionID)

	for {
		var ev models.Envelope
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == models.EventAnnounced {
			assert.Equal(t, "tutor-9", ev.Identity)
			break
		}
	}
	assert.Equal(t, []string{"tutor-9"}, env.hub.OnlineIdentities())
}

type nopClient struct {
	send chan models.Envelope
}

func (c *nopClient) GetSendChannel() chan<- models.Envelope { return c.send }
func (c *nopClient) Run()                                   {}
func (c *nopClient) Close()                                 {}
