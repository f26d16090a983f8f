package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/counter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	srv := New(":0", pinger{}, counter.New(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	down := New(":0", pinger{err: errors.New("closed")}, nil, zap.NewNop())
	rec = httptest.NewRecorder()
	down.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStats(t *testing.T) {
	commands := counter.New()
	commands.Record("rep", false)
	commands.Record("rep", false)
	commands.RecordError("lyrics", false)

	rec := httptest.NewRecorder()
	New(":0", nil, commands, zap.NewNop()).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats.Commands, 2)
	assert.Equal(t, counter.Usage{Command: "rep", Count: 2}, stats.Commands[0])
	assert.Equal(t, counter.Usage{Command: "lyrics", Count: 1, Errors: 1}, stats.Commands[1])
	assert.NotEmpty(t, stats.Uptime)
}
