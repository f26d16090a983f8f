package coronavirus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the tracker answers without a json content type
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"latest":{"confirmed":1500000,"recovered":300000,"deaths":90000},"locations":[]}`))
	}))
	defer srv.Close()

	stats, err := New(srv.URL, srv.Client()).Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1110000), stats.Active())
	assert.Equal(t, "**Coronavirus Stats**\n\nTotal infected: 1,500,000\nTotal recovered: 300,000\nTotal death: 90,000\n\nActual existing cases: 1,110,000", stats.String())
}

func TestLatestDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client()).Latest(context.Background())
	assert.ErrorIs(t, err, ErrAPIDown)
}
