package registry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *Registry) {
	t.Helper()
	reg, _ := newTestRegistry(t, threeProcessors()...)
	h := NewHandler(reg)
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	h.RegisterAdminRoutes(r.Group("/v1/admin"))
	return r, reg
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_ListProcessors(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodGet, "/v1/processors", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Processors []ProcessorRecord `json:"processors"`
		Count      int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "stripe", resp.Processors[0].ID)
}

func TestHandler_GetProcessor_NotFound(t *testing.T) {
	r, _ := setupRouter(t)
	w := do(r, http.MethodGet, "/v1/processors/adyen", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestHandler_Chain(t *testing.T) {
	r, _ := setupRouter(t)
	w := do(r, http.MethodGet, "/v1/processors/chain?exclude=stripe", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Chain []string `json:"chain"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"paypal", "visa"}, resp.Chain)
}

func TestHandler_Risk(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodGet, "/v1/processors/stripe/risk?amount=250.00&currency=usd", "")
	require.Equal(t, http.StatusOK, w.Code)
	var a RiskAssessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, "stripe", a.ProcessorID)

	w = do(r, http.MethodGet, "/v1/processors/stripe/risk?amount=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_FreezeRestoreMaintenance(t *testing.T) {
	r, reg := setupRouter(t)

	w := do(r, http.MethodPost, "/v1/admin/processors/stripe/freeze", "")
	require.Equal(t, http.StatusOK, w.Code)
	rec, _ := reg.Get("stripe")
	assert.Equal(t, StatusFrozen, rec.Status)

	w = do(r, http.MethodPost, "/v1/admin/processors/stripe/restore", "")
	require.Equal(t, http.StatusOK, w.Code)
	rec, _ = reg.Get("stripe")
	assert.Equal(t, StatusHealthy, rec.Status)

	w = do(r, http.MethodPost, "/v1/admin/processors/visa/maintenance", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	rec, _ = reg.Get("visa")
	assert.Equal(t, StatusMaintenance, rec.Status)

	w = do(r, http.MethodPost, "/v1/admin/processors/visa/maintenance", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/admin/processors/adyen/freeze", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
