package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplens/croplens/internal/domain/detection"
	"github.com/croplens/croplens/internal/infra/storage"
)

func setupAlertTest(t *testing.T) (context.Context, *pgxpool.Pool, *alertStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewAlertStore(db, storage.NoOpTracer())
	return context.Background(), db, store, cleanup
}

func openAlert(key detection.AlertKey) *detection.Alert {
	return &detection.Alert{
		Key:        key,
		Severity:   detection.SeverityMedium,
		Confidence: detection.ConfidenceHigh,
		Evidence:   json.RawMessage(`{"mean_index":0.22}`),
		Status:     detection.AlertStatusOpen,
	}
}

func alertKey() detection.AlertKey {
	return detection.AlertKey{
		TenantID:  uuid.New(),
		AOIID:     uuid.New(),
		Year:      2024,
		Week:      14,
		AlertType: detection.AlertTypeLowNDVI,
	}
}

func TestAlertStore_UpsertInsertsThenRefreshesInPlace(t *testing.T) {
	t.Parallel()
	ctx, _, store, cleanup := setupAlertTest(t)
	defer cleanup()

	key := alertKey()
	first := openAlert(key)

	inserted, err := store.UpsertActive(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := openAlert(key)
	second.Severity = detection.SeverityHigh
	second.Evidence = json.RawMessage(`{"mean_index":0.15}`)

	inserted, err = store.UpsertActive(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	loaded, err := store.GetActiveByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, detection.SeverityHigh, loaded.Severity)
	assert.JSONEq(t, `{"mean_index":0.15}`, string(loaded.Evidence))
}

func TestAlertStore_AckedAlertIsRefreshedNotDuplicated(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupAlertTest(t)
	defer cleanup()

	key := alertKey()
	first := openAlert(key)
	_, err := store.UpsertActive(ctx, first)
	require.NoError(t, err)

	_, err = db.Exec(ctx, `UPDATE alerts SET status = 'ACK' WHERE id = $1`, first.ID)
	require.NoError(t, err)

	second := openAlert(key)
	second.Severity = detection.SeverityHigh

	inserted, err := store.UpsertActive(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted, "re-evaluation must refresh the acked alert in place")
	assert.Equal(t, first.ID, second.ID)

	loaded, err := store.GetActiveByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, detection.AlertStatusAck, loaded.Status, "refresh must not reopen an acked alert")
	assert.Equal(t, detection.SeverityHigh, loaded.Severity)
}

func TestAlertStore_ResolvedAlertDoesNotBlockNewInsert(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupAlertTest(t)
	defer cleanup()

	key := alertKey()
	first := openAlert(key)
	_, err := store.UpsertActive(ctx, first)
	require.NoError(t, err)

	_, err = db.Exec(ctx, `UPDATE alerts SET status = 'RESOLVED' WHERE id = $1`, first.ID)
	require.NoError(t, err)

	second := openAlert(key)
	inserted, err := store.UpsertActive(ctx, second)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAlertStore_GetActiveByKeyNotFound(t *testing.T) {
	t.Parallel()
	ctx, _, store, cleanup := setupAlertTest(t)
	defer cleanup()

	_, err := store.GetActiveByKey(ctx, alertKey())
	assert.ErrorIs(t, err, detection.ErrAlertNotFound)
}
