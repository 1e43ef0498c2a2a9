package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Billy-Davies-2/draft-copilot/internal/config"
	"github.com/Billy-Davies-2/draft-copilot/internal/draft"
	"github.com/Billy-Davies-2/draft-copilot/internal/store"
)

func TestFetchSortsByRank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"wr1","name":"WR One","position":"WR","rank":3},
			{"id":"qb1","name":"QB One","position":"QB","rank":1},
			{"id":"rb1","name":"RB One","position":"RB","rank":2}
		]`))
	}))
	defer srv.Close()

	players, err := NewClient(config.Catalog{URL: srv.URL}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, "qb1", players[0].ID)
	assert.Equal(t, "rb1", players[1].ID)
	assert.Equal(t, "wr1", players[2].ID)
}

func TestRefreshDrivesAggregateState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"qb1","name":"QB One","position":"QB","rank":1}]`))
	}))
	defer srv.Close()

	s, err := draft.NewStore(store.NewMemoryStore(), nil)
	require.NoError(t, err)

	require.NoError(t, NewClient(config.Catalog{URL: srv.URL}).Refresh(context.Background(), s))
	assert.Len(t, s.Players(), 1)
	assert.False(t, s.PlayersLoading())
	assert.Empty(t, s.PlayersError())
}

func TestRefreshFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := draft.NewStore(store.NewMemoryStore(), nil)
	require.NoError(t, err)

	require.Error(t, NewClient(config.Catalog{URL: srv.URL}).Refresh(context.Background(), s))
	assert.Empty(t, s.Players())
	assert.False(t, s.PlayersLoading())
	assert.NotEmpty(t, s.PlayersError())
}
