package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAllowPerKey(t *testing.T) {
	l := New(1, 2)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	assert.True(t, l.Allow("kol-1"))
	assert.True(t, l.Allow("kol-1"))
	assert.False(t, l.Allow("kol-1"))
	assert.True(t, l.Allow("brand-1"))

	fixed = fixed.Add(time.Second)
	assert.True(t, l.Allow("kol-1"))
}

func TestDisabledLimiter(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("x"))
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(0.001, 1)
	r := gin.New()
	r.Use(l.Middleware(func(*gin.Context) string { return "user-1" }, nil))
	r.POST("/works/1/submit", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/works", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "/works/1/submit"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "/works/1/submit"))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/works"))
}
