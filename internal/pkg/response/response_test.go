package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func performRequest(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", handler)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		handler    gin.HandlerFunc
		wantStatus int
		wantCode   int
	}{
		{"success", func(c *gin.Context) { Success(c, gin.H{"ok": true}) }, http.StatusOK, CodeSuccess},
		{"created", func(c *gin.Context) { Created(c, nil) }, http.StatusCreated, CodeSuccess},
		{"accepted", func(c *gin.Context) { Accepted(c, nil) }, http.StatusAccepted, CodeSuccess},
		{"param error", func(c *gin.Context) { ParamError(c, "") }, http.StatusBadRequest, CodeParamError},
		{"auth error", func(c *gin.Context) { AuthError(c, "") }, http.StatusUnauthorized, CodeAuthFailed},
		{"payment required", func(c *gin.Context) { PaymentRequiredError(c, "", nil) }, http.StatusPaymentRequired, CodeInsufficientCredits},
		{"permission", func(c *gin.Context) { PermissionError(c, "") }, http.StatusForbidden, CodePermissionDenied},
		{"not found", func(c *gin.Context) { NotFoundError(c, "") }, http.StatusNotFound, CodeResourceNotFound},
		{"conflict", func(c *gin.Context) { ConflictError(c, "") }, http.StatusConflict, CodeConflict},
		{"server error", func(c *gin.Context) { ServerError(c, "") }, http.StatusInternalServerError, CodeServerError},
		{"unavailable", func(c *gin.Context) { UnavailableError(c, "") }, http.StatusServiceUnavailable, CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(tt.handler)
			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestPaymentRequiredCarriesData(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		PaymentRequiredError(c, "", gin.H{"required": 3, "available": 1})
	})

	resp := decode(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(3), data["required"])
	assert.Equal(t, float64(1), data["available"])
}

func TestSuccessPage(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		SuccessPage(c, 42, 2, 10, []string{"a", "b"})
	})

	resp := decode(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(42), data["total"])
	assert.Equal(t, float64(2), data["page"])
	assert.Equal(t, float64(10), data["page_size"])
}
