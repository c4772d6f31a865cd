package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/storyvoice_go_server/internal/repository"
	"github.com/qs3c/storyvoice_go_server/internal/testutil"
)

func TestAdminOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	userRepo := repository.NewUserRepository(db)
	admin := testutil.TestUser(t, db, testutil.WithAdmin())
	regular := testutil.TestUser(t, db)

	gin.SetMode(gin.TestMode)
	newRouter := func(userID int64) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set(UserIDKey, userID)
			c.Next()
		})
		router.Use(AdminOnly(userRepo))
		router.GET("/admin", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return router
	}

	// 管理员放行
	w := httptest.NewRecorder()
	newRouter(admin.ID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// 普通用户 403
	w = httptest.NewRecorder()
	newRouter(regular.ID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 不存在的用户 403
	w = httptest.NewRecorder()
	newRouter(99999).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
