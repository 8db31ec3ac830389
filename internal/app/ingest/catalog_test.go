package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/croplens/croplens/internal/domain/jobs"
	"github.com/croplens/croplens/internal/infra/providers"
	"github.com/croplens/croplens/pkg/common/logger"
)

type stubCatalog struct {
	scenes  []providers.Scene
	err     error
	queries []providers.SceneQuery
}

func (s *stubCatalog) Name() string { return "stub" }

func (s *stubCatalog) FindScenes(_ context.Context, query providers.SceneQuery) ([]providers.Scene, error) {
	s.queries = append(s.queries, query)
	return s.scenes, s.err
}

func newCatalogProcessor(catalog providers.SceneProvider) *CatalogProcessor {
	return NewCatalogProcessor(
		CatalogProcessorConfig{Collection: "sentinel-2-l2a", MaxCloudCover: 0.6},
		catalog,
		logger.New(io.Discard, logger.LevelDebug, "test", nil),
		noop.NewTracerProvider().Tracer("test"),
	)
}

func TestCatalogProcessor_ProcessWeekQueriesTheISOWeekWindow(t *testing.T) {
	t.Parallel()

	catalog := &stubCatalog{scenes: []providers.Scene{{ID: "a"}, {ID: "b"}}}
	processor := newCatalogProcessor(catalog)

	summary, err := processor.ProcessWeek(context.Background(), jobs.WeekCommand{
		TenantID:        uuid.New(),
		AOIID:           uuid.New(),
		Year:            2024,
		Week:            2,
		PipelineVersion: "v2.1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ScenesFetched)

	require.Len(t, catalog.queries, 1)
	query := catalog.queries[0]
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), query.From)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), query.To)
	assert.Equal(t, "sentinel-2-l2a", query.Collection)
	assert.Equal(t, 0.6, query.MaxCloudCover)
}

func TestCatalogProcessor_EmptyWeekIsNotAnError(t *testing.T) {
	t.Parallel()

	processor := newCatalogProcessor(&stubCatalog{})

	summary, err := processor.ProcessWeek(context.Background(), jobs.WeekCommand{Year: 2024, Week: 1})
	require.NoError(t, err)
	assert.Zero(t, summary.ScenesFetched)
}

func TestCatalogProcessor_ProcessRangeUsesTheCommandWindow(t *testing.T) {
	t.Parallel()

	catalog := &stubCatalog{scenes: []providers.Scene{{ID: "w"}}}
	processor := newCatalogProcessor(catalog)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	summary, err := processor.ProcessRange(context.Background(), jobs.RangeCommand{FromDate: from, ToDate: to})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ScenesFetched)

	require.Len(t, catalog.queries, 1)
	assert.Equal(t, from, catalog.queries[0].From)
	assert.Equal(t, to, catalog.queries[0].To)
}

func TestCatalogProcessor_PropagatesCatalogErrors(t *testing.T) {
	t.Parallel()

	catalogErr := errors.New("all providers failed")
	processor := newCatalogProcessor(&stubCatalog{err: catalogErr})

	_, err := processor.ProcessWeek(context.Background(), jobs.WeekCommand{Year: 2024, Week: 1})
	assert.ErrorIs(t, err, catalogErr)
}
