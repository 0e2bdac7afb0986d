package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUndashedID(t *testing.T) {
	id, err := ParseUndashedID("069a79f444e94726a5befca90e38aaf5")
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5"), id)

	for _, bad := range []string{"", "069a79f4", "069a79f4-44e9-4726-a5be-fca90e38aaf5", "zz9a79f444e94726a5befca90e38aaf5"} {
		_, err := ParseUndashedID(bad)
		assert.Error(t, err, "id %q", bad)
	}
}

func TestMojang_LookupByUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jeb_":
			fmt.Fprint(w, `{"id":"853c80ef3c3749fdaa49938b674adae6","name":"jeb_"}`)
		case "/gone":
			w.WriteHeader(http.StatusNoContent)
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewMojang(srv.URL+"/", time.Second)
	ctx := context.Background()

	p, err := m.LookupByUsername(ctx, "jeb_")
	require.NoError(t, err)
	assert.Equal(t, "jeb_", p.Username)
	assert.Equal(t, "853c80ef-3c37-49fd-aa49-938b674adae6", p.UUID.String())

	_, err = m.LookupByUsername(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.LookupByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.LookupByUsername(ctx, "limited")
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestMojang_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	m := NewMojang(srv.URL, 5*time.Millisecond)
	start := time.Now()
	_, err := m.LookupByUsername(context.Background(), "slow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMojang_CollapsesConcurrentLookups(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		fmt.Fprint(w, `{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`)
	}))
	defer srv.Close()

	m := NewMojang(srv.URL, 5*time.Second)
	const callers = 8

	var wg sync.WaitGroup
	results := make([]*Profile, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p, err := m.LookupByUsername(context.Background(), "Notch")
			if err == nil {
				results[idx] = p
			}
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for i, p := range results {
		require.NotNil(t, p, "caller %d", i)
		assert.Equal(t, "Notch", p.Username)
	}
	// each caller gets its own copy
	results[0].Username = "changed"
	assert.Equal(t, "Notch", results[1].Username)
}

func TestNull(t *testing.T) {
	p, err := Null{}.LookupByUsername(context.Background(), "Offline_Player")
	require.NoError(t, err)
	assert.Equal(t, "Offline_Player", p.Username)
	assert.Equal(t, uuid.Nil, p.UUID)
}
