package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"waitlist_backend/internal/auth"
	"waitlist_backend/internal/models"
	"waitlist_backend/internal/storage"
	"waitlist_backend/internal/waitlist"
	"waitlist_backend/internal/ws"
)

type testServer struct {
	*httptest.Server
	db     *gorm.DB
	tokens *auth.Tokens
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, storage.Migrate(db), "Ошибка при миграции")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub()
	go hub.Run(ctx)

	store := storage.NewGormStore(db)
	penalties := storage.NewPenaltyChecker(rdb)
	engine := waitlist.New(store,
		waitlist.WithEligibility(penalties),
		waitlist.WithNotifier(hub),
		waitlist.WithEventSink(waitlist.MultiSink{hub, storage.NewRedisEventSink(rdb)}),
	)

	tokens := auth.NewTokens([]byte("test-access"), []byte("test-refresh"))
	authHandler := NewAuthHandler(db, tokens)

	r := gin.New()
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/refresh", authHandler.RefreshToken)
	}
	api := r.Group("/api", auth.AuthMiddleware(tokens))
	NewWaitlistHandler(engine, store, penalties, hub).RegisterRoutes(api)

	ts := &testServer{Server: httptest.NewServer(r), db: db, tokens: tokens}
	t.Cleanup(func() {
		ts.Close()
		cancel()
		rdb.Close()
		sqlDB.Close()
	})
	return ts
}

// createUser заводит пользователя напрямую в БД и возвращает его access токен.
func (ts *testServer) createUser(t *testing.T, name string, role models.Priority) (models.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		Name:         name,
		Surname:      "Тестов",
		Email:        fmt.Sprintf("%s_%d@example.com", name, time.Now().UnixNano()),
		PasswordHash: string(hash),
		Role:         role,
	}
	require.NoError(t, ts.db.Create(&user).Error, "Ошибка создания пользователя")
	access, _, err := ts.tokens.Issue(&user)
	require.NoError(t, err)
	return user, access
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return res.StatusCode, out
}

func entryIDOf(t *testing.T, body map[string]interface{}) uint {
	t.Helper()
	entry, ok := body["entry"].(map[string]interface{})
	require.True(t, ok, "В ответе нет записи")
	return uint(entry["id"].(float64))
}

func (ts *testServer) createList(t *testing.T, adminToken string, body map[string]interface{}) uint {
	t.Helper()
	status, resp := ts.do(t, http.MethodPost, "/api/waiting-lists", adminToken, body)
	require.Equal(t, http.StatusCreated, status, resp)
	return uint(resp["ID"].(float64))
}

func TestAuthFlow(t *testing.T) {
	ts := setupTestServer(t)

	user := map[string]string{"name": "Иван", "surname": "Иванов", "email": "ivan@example.com", "password": "secret1"}
	status, _ := ts.do(t, http.MethodPost, "/auth/register", "", user)
	assert.Equal(t, http.StatusCreated, status)

	status, resp := ts.do(t, http.MethodPost, "/auth/register", "", user)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "EMAIL_EXISTS", resp["code"])

	status, resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ivan@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", resp["code"])

	status, resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ivan@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, status)
	access := resp["access_token"].(string)
	refresh := resp["refresh_token"].(string)

	claims, err := ts.tokens.ParseAccess(access)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityStudent, claims.Role, "Новый пользователь получает уровень STUDENT")

	// роль перечитывается из БД при обновлении токена
	require.NoError(t, ts.db.Model(&models.User{}).Where("id = ?", claims.UserID).Update("role", models.PriorityTeacher).Error)
	status, resp = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, status)
	claims, err = ts.tokens.ParseAccess(resp["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.PriorityTeacher, claims.Role)

	status, _ = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": access})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestWaitingListFlow(t *testing.T) {
	ts := setupTestServer(t)

	_, adminToken := ts.createUser(t, "admin", models.PriorityAdmin)
	_, aliceToken := ts.createUser(t, "alice", models.PriorityStudent)
	_, bobToken := ts.createUser(t, "bob", models.PriorityTeacher)

	// 1. Создание листа ожидания доступно только администратору.
	status, resp := ts.do(t, http.MethodPost, "/api/waiting-lists", aliceToken, map[string]interface{}{"resource_id": 1, "name": "Аудитория"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ADMIN_ONLY", resp["code"])

	listID := ts.createList(t, adminToken, map[string]interface{}{"resource_id": 101, "name": "Аудитория 101"})
	base := fmt.Sprintf("/api/waiting-lists/%d", listID)

	// 2. Вступление: преподаватель встаёт впереди студента.
	status, resp = ts.do(t, http.MethodPost, base+"/join", aliceToken, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, float64(1), resp["position"])
	assert.Equal(t, "low", resp["confidence"])
	aliceEntry := entryIDOf(t, resp)

	status, resp = ts.do(t, http.MethodPost, base+"/join", bobToken, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, float64(1), resp["position"])
	bobEntry := entryIDOf(t, resp)

	status, resp = ts.do(t, http.MethodPost, base+"/join", aliceToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_IN_QUEUE", resp["code"])

	status, _ = ts.do(t, http.MethodPost, base+"/join", aliceToken, map[string]interface{}{"priority": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, status, "Приоритет задаёт только администратор")

	status, resp = ts.do(t, http.MethodGet, base+"/position", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp["position"])
	assert.Equal(t, float64(1), resp["ahead"])
	assert.Equal(t, "WAITING", resp["status"])

	// 3. WS-подписка bob получает личное предложение слота.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + base + "/ws?token=" + bobToken
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "Ошибка подключения к WS")
	defer wsConn.Close()
	// Даём хабу зарегистрировать клиента.
	time.Sleep(100 * time.Millisecond)

	status, resp = ts.do(t, http.MethodPost, base+"/slots", adminToken, map[string]interface{}{"count": 1})
	require.Equal(t, http.StatusOK, status, resp)
	notified := resp["notified"].([]interface{})
	require.Len(t, notified, 1)
	assert.Equal(t, float64(bobEntry), notified[0].(map[string]interface{})["id"])

	offered := false
	require.NoError(t, wsConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for !offered {
		_, data, err := wsConn.ReadMessage()
		require.NoError(t, err, "Ошибка чтения WS сообщения")
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Contains(t, msg, "event_type")
		offered = msg["event_type"] == "slot_offered"
	}

	status, resp = ts.do(t, http.MethodGet, base+"/position", bobToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "NOTIFIED", resp["status"])
	assert.NotEmpty(t, resp["deadline"])

	// 4. Подтверждение: только владелец записи.
	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/confirm", bobEntry), aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_ENTRY_OWNER", resp["code"])

	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/confirm", bobEntry), bobToken, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, "CONFIRMED", resp["entry"].(map[string]interface{})["status"])
	assert.Equal(t, float64(aliceEntry), resp["next_in_line"].(map[string]interface{})["id"])

	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/confirm", bobEntry), bobToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_CONFIRMED", resp["code"])

	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/reject", aliceEntry), aliceToken, nil)
	assert.Equal(t, http.StatusConflict, status, "Отказаться можно только от предложенного слота")
	assert.Equal(t, "INVALID_TRANSITION", resp["code"])

	// 5. Статистика и оценки.
	status, resp = ts.do(t, http.MethodGet, base+"/estimate?priority=external", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp["position"])

	status, resp = ts.do(t, http.MethodGet, base+"/estimate?priority=vip", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PRIORITY", resp["code"])

	status, resp = ts.do(t, http.MethodGet, base+"/stats", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp["total"])
	assert.Equal(t, float64(1), resp["confirmation_rate"])

	// 6. Выход из очереди.
	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/leave", aliceEntry), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/leave", aliceEntry), aliceToken, map[string]string{"reason": "нашла другую"})
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, "нашла другую", resp["entry"].(map[string]interface{})["cancel_reason"])

	status, resp = ts.do(t, http.MethodGet, base+"/position", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_IN_QUEUE", resp["code"])
}

func TestAdminOperations(t *testing.T) {
	ts := setupTestServer(t)

	admin, adminToken := ts.createUser(t, "admin", models.PriorityAdmin)
	_, aliceToken := ts.createUser(t, "alice", models.PriorityStudent)
	bob, bobToken := ts.createUser(t, "bob", models.PriorityStudent)

	listID := ts.createList(t, adminToken, map[string]interface{}{"resource_id": 7, "name": "Лаборатория", "confirmation_time_limit": 5})
	base := fmt.Sprintf("/api/waiting-lists/%d", listID)

	_, resp := ts.do(t, http.MethodPost, base+"/join", aliceToken, nil)
	aliceEntry := entryIDOf(t, resp)
	assert.Equal(t, float64(5), resp["entry"].(map[string]interface{})["confirmation_time_limit"])
	_, resp = ts.do(t, http.MethodPost, base+"/join", bobToken, nil)
	bobEntry := entryIDOf(t, resp)

	// Администратор записывает другого пользователя с явным приоритетом.
	status, resp := ts.do(t, http.MethodPost, base+"/join", adminToken, map[string]interface{}{"user_id": admin.ID + 100, "priority": "EXTERNAL"})
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, float64(3), resp["position"])
	assert.Equal(t, "EXTERNAL", resp["entry"].(map[string]interface{})["priority"])

	// Повышение приоритета.
	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/escalate", bobEntry), aliceToken, map[string]string{"priority": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/escalate", bobEntry), adminToken, map[string]string{"priority": "TEACHER"})
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, float64(1), resp["position"])

	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/escalate", bobEntry), adminToken, map[string]string{"priority": "STUDENT"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "MUST_ESCALATE_TO_HIGHER_PRIORITY", resp["code"])

	// Штраф: bob пропускается при раздаче слотов.
	status, _ = ts.do(t, http.MethodPost, "/api/admin/penalties", adminToken, map[string]interface{}{"user_id": bob.ID, "reason": "no-show", "minutes": 30})
	require.Equal(t, http.StatusOK, status)

	status, resp = ts.do(t, http.MethodPost, base+"/slots", adminToken, map[string]interface{}{
		"slots": []map[string]interface{}{{"resource_id": 7, "starts_at": "2030-01-01T10:00:00Z", "ends_at": "2030-01-01T11:00:00Z"}},
	})
	require.Equal(t, http.StatusOK, status, resp)
	skipped := resp["skipped"].([]interface{})
	require.Len(t, skipped, 1)
	assert.Equal(t, "no-show", skipped[0].(map[string]interface{})["reason"])
	notified := resp["notified"].([]interface{})
	require.Len(t, notified, 1)
	assert.Equal(t, float64(aliceEntry), notified[0].(map[string]interface{})["id"])

	var slots int64
	require.NoError(t, ts.db.Model(&models.Slot{}).Count(&slots).Error)
	assert.Equal(t, int64(1), slots, "Слоты сохраняются")

	status, resp = ts.do(t, http.MethodPost, base+"/slots", adminToken, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "NO_SLOTS", resp["code"])

	// Отказ от предложенного слота передаёт его следующему допущенному.
	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/reject", aliceEntry), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/entries/%d/reject", aliceEntry), aliceToken, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, "EXPIRED", resp["entry"].(map[string]interface{})["status"])
	assert.Equal(t, "USER_REJECTED", resp["entry"].(map[string]interface{})["expire_reason"])
	assert.NotNil(t, resp["next_notified"], "Внешний участник получает слот, bob оштрафован")

	// Пересчёт, справедливость, закрытие.
	status, resp = ts.do(t, http.MethodPost, base+"/reorder", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp["changes"])

	status, resp = ts.do(t, http.MethodGet, base+"/fairness", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resp["score"])

	status, resp = ts.do(t, http.MethodPost, base+"/fairness", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp["swaps"])

	status, resp = ts.do(t, http.MethodPost, base+"/close", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, resp["cancelled"], 1)

	status, resp = ts.do(t, http.MethodPost, base+"/join", aliceToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "WAITING_LIST_INACTIVE", resp["code"])
}

func TestRequestErrors(t *testing.T) {
	ts := setupTestServer(t)
	_, token := ts.createUser(t, "alice", models.PriorityStudent)
	_, adminToken := ts.createUser(t, "admin", models.PriorityAdmin)

	status, resp := ts.do(t, http.MethodPost, "/api/waiting-lists/1/join", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "NO_AUTH_HEADER", resp["code"])

	status, resp = ts.do(t, http.MethodPost, "/api/waiting-lists/abc/join", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_WAITING_LIST_ID", resp["code"])

	status, resp = ts.do(t, http.MethodPost, "/api/waiting-lists/404/join", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "WAITING_LIST_NOT_FOUND", resp["code"])

	status, resp = ts.do(t, http.MethodPost, "/api/entries/0/confirm", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ENTRY_ID", resp["code"])

	status, resp = ts.do(t, http.MethodPost, "/api/entries/77/confirm", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ENTRY_NOT_FOUND", resp["code"])

	status, resp = ts.do(t, http.MethodPost, "/api/waiting-lists", adminToken, map[string]interface{}{
		"resource_id": 1, "name": "Неверные даты",
		"opens_at": "2030-01-02T00:00:00Z", "closes_at": "2030-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", resp["code"])

	listID := ts.createList(t, adminToken, map[string]interface{}{"resource_id": 1, "name": "Будущая", "opens_at": "2030-01-01T00:00:00Z"})
	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/waiting-lists/%d/join", listID), token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "WAITING_LIST_INACTIVE", resp["code"])
}
