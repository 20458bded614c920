package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sige/internal/catalog"
)

func metaRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/meta", MetaListHandler(cat))
	r.GET("/api/meta/:table", MetaTableHandler(cat))
	return r
}

func TestMetaListHandler(t *testing.T) {
	r := metaRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meta", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var items []struct {
		Table   string `json:"table"`
		Tenancy string `json:"tenancy"`
		Columns int    `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.NotEmpty(t, items)

	byName := map[string]string{}
	for _, it := range items {
		assert.Positive(t, it.Columns, it.Table)
		byName[it.Table] = it.Tenancy
	}
	assert.Equal(t, "global", byName["usuario"])
	assert.Equal(t, "tenant", byName["registro_ponto"])
	assert.Equal(t, "catalog", byName["feriado_nacional"])
}

func TestMetaTableHandler(t *testing.T) {
	r := metaRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meta/registro_ponto", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Table    string `json:"table"`
		Tenancy  string `json:"tenancy"`
		Backfill string `json:"backfill"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "registro_ponto", body.Table)
	assert.Equal(t, "tenant", body.Tenancy)
	assert.Equal(t, "via-join+default-tenant", body.Backfill)
}

func TestMetaTableHandlerNotFound(t *testing.T) {
	r := metaRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meta/contas_pagar", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
