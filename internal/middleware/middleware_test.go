package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	modelChat "salon_backend/internal/models/chat"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		ident, _ := GetIdentity(c)
		c.JSON(http.StatusOK, ident)
	})
	return r
}

func staffRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderUserID, "staff-1")
	req.Header.Set(HeaderUserName, "Anna")
	req.Header.Set(HeaderUserRole, string(modelChat.RoleBranchAdmin))
	req.Header.Set(HeaderGroupID, "branch-1")
	req.Header.Set(HeaderGroupName, "Central")
	return req
}

func TestRequestIDMiddleware(t *testing.T) {
	r := newRouter(RequestIDMiddleware())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader), "ID должен быть сгенерирован")

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader), "входящий ID сохраняется")
}

func TestIdentityMiddleware(t *testing.T) {
	r := newRouter(IdentityMiddleware())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, staffRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"group_id":"branch-1"`)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "без участника запрос отклоняется")

	req = staffRequest()
	req.Header.Del(HeaderGroupID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "сотрудник без филиала отклоняется")

	req = staffRequest()
	req.Header.Set(HeaderUserRole, "janitor")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	pool := NewLimiterPool(0.001, 2)
	defer pool.Shutdown()

	rejected := 0
	r := newRouter(IdentityMiddleware(), RateLimitMiddleware(pool, func() { rejected++ }))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, staffRequest())
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, rejected)
}

func TestLimiterPool_Evict(t *testing.T) {
	pool := NewLimiterPool(10, 1)
	defer pool.Shutdown()

	assert.True(t, pool.Allow("a"))
	assert.True(t, pool.Allow("b"))
	assert.Equal(t, 2, pool.Len())

	pool.evict(time.Now().Add(time.Hour))
	assert.Equal(t, 0, pool.Len(), "устаревшие лимитеры удаляются")
}
