// Package catalog loads the master player list from the configured catalog
// endpoint and drives the aggregate's players accessors.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Billy-Davies-2/draft-copilot/internal/config"
	"github.com/Billy-Davies-2/draft-copilot/internal/draft"
	"github.com/Billy-Davies-2/draft-copilot/internal/logger"
	"github.com/Billy-Davies-2/draft-copilot/internal/models"
)

// Client fetches the player catalog.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a catalog client from configuration.
func NewClient(cfg config.Catalog) *Client {
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Fetch downloads and decodes the full player list, sorted by rank.
func (c *Client) Fetch(ctx context.Context) ([]models.Player, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var players []models.Player
	if err := json.NewDecoder(resp.Body).Decode(&players); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Rank < players[j].Rank
	})
	return players, nil
}

// Refresh fetches the catalog and pushes the result (or the failure) into
// the draft aggregate.
func (c *Client) Refresh(ctx context.Context, store *draft.Store) error {
	store.SetPlayersLoading()

	players, err := c.Fetch(ctx)
	if err != nil {
		logger.Error("Catalog refresh failed", "error", err)
		store.SetPlayersError(err.Error())
		return err
	}

	logger.Info("Catalog refreshed", "players", len(players))
	store.SetPlayers(players)
	return nil
}
