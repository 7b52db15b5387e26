package journal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"lms-zabbix-sync/core/loader"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestApp(t *testing.T) (*fiber.App, *Store) {
	store := setupSQLite(t)
	app := fiber.New()
	NewHandler(store, zap.NewNop()).RegisterRoutes(app)
	return app, store
}

func TestHandleList(t *testing.T) {
	app, store := setupTestApp(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, Entry{MessageID: "a", DeviceID: 5, Outcome: OutcomeApplied}))
	require.NoError(t, store.Record(ctx, Entry{MessageID: "b", DeviceID: 6, Outcome: OutcomeDropped}))

	req := httptest.NewRequest("GET", "/journal?device_id=5", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "a", body.Entries[0].MessageID)
}

func TestHandleList_BadRequest(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/journal?limit=-1", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestFeature(t *testing.T) {
	t.Run("DisabledWithoutStore", func(t *testing.T) {
		f := NewFeature(nil, zap.NewNop())
		assert.Equal(t, "journal", f.Name())
		assert.False(t, f.IsEnabled())
	})

	t.Run("Loads", func(t *testing.T) {
		store := setupSQLite(t)
		mgr := loader.NewManager()
		mgr.Register(NewFeature(store, zap.NewNop()))

		app := fiber.New()
		loaded, err := mgr.LoadAll(app)
		require.NoError(t, err)
		assert.Equal(t, []string{"journal"}, loaded)

		resp, err := app.Test(httptest.NewRequest("GET", "/journal", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})
}
