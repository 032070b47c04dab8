package randomness

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrandClientParsesLatestBeacon(t *testing.T) {
	var round atomic.Uint64
	round.Store(100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/abc/public/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"round":%d,"randomness":"00000000000000000000000000000000000000000000000000000000000001ff","signature":"aa"}`, round.Load())
	}))
	defer srv.Close()

	c := NewDrandClient(srv.URL+"/", "abc")
	v, err := c.RandomValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(511), v.Uint64())

	_, err = c.RandomValue(context.Background())
	require.Error(t, err, "same round must not be reused")

	round.Store(101)
	_, err = c.RandomValue(context.Background())
	require.NoError(t, err)
}

func TestDrandClientRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewDrandClient(srv.URL, "").RandomValue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestLocalRandomValue(t *testing.T) {
	a, err := Local{}.RandomValue(context.Background())
	require.NoError(t, err)
	b, err := Local{}.RandomValue(context.Background())
	require.NoError(t, err)
	assert.False(t, a.Eq(b))
}
