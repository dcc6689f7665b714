package jwt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"InsightLink/pkg/back"
	"InsightLink/pkg/util/myjwt"
	"InsightLink/pkg/xerr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthWithKey("k"), func(c *gin.Context) {
		back.Success(c, gin.H{"uuid": c.GetString(CtxUserID)})
	})
	return r
}

func TestAuth(t *testing.T) {
	tok, err := myjwt.GenerateTokenWith(myjwt.Options{Key: "k"}, "U1", "alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", xerr.Unauthorized},
		{"malformed", "Token abc", xerr.Unauthorized},
		{"bad token", "Bearer abc", xerr.Unauthorized},
		{"ok", "Bearer " + tok, xerr.OK},
	}
	r := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			var resp back.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}
