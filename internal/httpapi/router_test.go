package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/dinitgo/internal/graph"
)

func setupRouter(t *testing.T, base string) (http.Handler, *graph.Set) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	set := graph.NewSet()
	r := NewRouter(set, base)
	return r.Handler(), set
}

func doReq(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleListEmpty(t *testing.T) {
	h, _ := setupRouter(t, "")
	rec := doReq(h, http.MethodGet, "/services")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []serviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Empty(t, views)
}

func TestHandleListIncludesDependencies(t *testing.T) {
	h, set := setupRouter(t, "")
	driver := graph.NewInternalDriver(set)
	dep, err := set.New(graph.Settings{Name: "dep", Kind: graph.KindInternal}, driver)
	require.NoError(t, err)
	svc, err := set.New(graph.Settings{Name: "svc", Kind: graph.KindInternal}, driver)
	require.NoError(t, err)
	_, err = set.AddDependency(svc, dep, graph.EdgeRegular)
	require.NoError(t, err)

	rec := doReq(h, http.MethodGet, "/services")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []serviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)

	byName := make(map[string]serviceView, len(views))
	for _, v := range views {
		byName[v.Name] = v
	}
	require.Contains(t, byName, "svc")
	require.Len(t, byName["svc"].DependsOn, 1)
	assert.Equal(t, "dep", byName["svc"].DependsOn[0].To)
}

func TestHandleStatusUnknownService(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	rec := doReq(h, http.MethodGet, "/api/services/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatusKnownService(t *testing.T) {
	h, set := setupRouter(t, "")
	driver := graph.NewInternalDriver(set)
	_, err := set.New(graph.Settings{Name: "svc", Kind: graph.KindInternal}, driver)
	require.NoError(t, err)

	rec := doReq(h, http.MethodGet, "/services/svc")
	require.Equal(t, http.StatusOK, rec.Code)

	var v serviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "svc", v.Name)
	assert.Equal(t, graph.Stopped.String(), v.Current)
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(""))
	assert.Equal(t, "", sanitizeBase("/"))
	assert.Equal(t, "/api", sanitizeBase("api"))
	assert.Equal(t, "/api", sanitizeBase("/api/"))
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	h, _ := setupRouter(t, "")
	rec := doReq(h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
