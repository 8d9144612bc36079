package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/apibridge/internal/runtime/config"
	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

func TestHandleGetMethods(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	svc := n.service("Worker")
	require.NoError(t, svc.RegisterMethod("process", handlerpkg.MethodHandlerFunc(func(context.Context, *handlerpkg.Request) (any, error) {
		return nil, nil
	})))
	require.NoError(t, svc.RegisterCallback("done", handlerpkg.CallbackHandlerFunc(func(context.Context, *handlerpkg.Callback) error {
		return nil
	})))
	n.listen(svc)

	rec := httptest.NewRecorder()
	svc.handleGetMethods(rec, httptest.NewRequest(http.MethodGet, "/api/methods", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	body, err := jsoncodec.DecodeObject(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Worker", body["service"])
	assert.Equal(t, true, body["listening"])
	assert.Equal(t, json.Number("1"), body["active_listeners"])

	handlers, ok := body["handlers"].([]any)
	require.True(t, ok)
	require.Len(t, handlers, 2)
	first := handlers[0].(map[string]any)
	assert.Equal(t, "process", first["name"])
	assert.Equal(t, HandlerKindMethod, first["kind"])
	assert.Equal(t, "apibridge/Worker_q", first["queue"])
	assert.Contains(t, body, "dispatch")
}

func TestHandleGetMethodsRejectsWrites(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	svc := n.service("Worker")

	rec := httptest.NewRecorder()
	svc.handleGetMethods(rec, httptest.NewRequest(http.MethodPost, "/api/methods", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleGetMethodsCORS(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	svc := n.service("Worker", func(c *configpkg.Config) {
		c.WebUICORSAllowedOrigins = []string{"https://dash.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/methods", nil)
	req.Header.Set("Origin", "https://DASH.example.com")
	rec := httptest.NewRecorder()
	svc.handleGetMethods(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://DASH.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/api/methods", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	svc.handleGetMethods(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetAllowedCORSOriginWildcard(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	svc := n.service("Worker", func(c *configpkg.Config) {
		c.WebUICORSAllowedOrigins = []string{"*"}
	})
	assert.Equal(t, "*", svc.getAllowedCORSOrigin("https://anything"))
}
