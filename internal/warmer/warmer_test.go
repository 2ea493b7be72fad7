package warmer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"port-api/internal/cache"
	"port-api/internal/geo"
	"port-api/internal/logger"
	"port-api/internal/model"
)

type fakeSource struct {
	ports []model.Port
	err   error
}

func (f *fakeSource) FetchAllActive(context.Context) ([]model.Port, error) {
	return f.ports, f.err
}

type lonGrid struct{}

func (lonGrid) ToCell(c geo.Coordinate) (string, error) {
	if c.Lon < 1 {
		return "cell-A", nil
	}
	return "cell-B", nil
}

func port(id string, lon float64) model.Port {
	return model.Port{
		ID:         id,
		Name:       "Port " + id,
		Code:       "P" + id,
		Country:    "XX",
		Coordinate: geo.Coordinate{Lat: 0, Lon: lon},
		Active:     true,
	}
}

func TestWarmPopulatesCacheGroupedByCell(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	src := &fakeSource{ports: []model.Port{port("1", 0.2), port("2", 0.8), port("3", 1.5)}}
	w := New(mem, lonGrid{}, src, logger.L())

	points, cells, err := w.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, points)
	assert.Equal(t, 2, cells)

	assert.Len(t, mem.GetPointsInCell(ctx, "cell-A"), 2)
	assert.Len(t, mem.GetPointsInCell(ctx, "cell-B"), 1)
	got, ok := mem.GetPoint(ctx, "3")
	require.True(t, ok)
	assert.Equal(t, "cell-B", got.Cell)
}

func TestWarmClearsStaleEntries(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	stale := port("old", 0.2)
	stale.Cell = "cell-A"
	mem.PutPoint(ctx, stale)

	src := &fakeSource{ports: []model.Port{port("new", 0.2)}}
	w := New(mem, lonGrid{}, src, logger.L())

	_, _, err := w.Warm(ctx)
	require.NoError(t, err)

	_, ok := mem.GetPoint(ctx, "old")
	assert.False(t, ok)
	ports := mem.GetPointsInCell(ctx, "cell-A")
	require.Len(t, ports, 1)
	assert.Equal(t, "new", ports[0].ID)
}

func TestWarmFetchFailureDegradesToEmptyCache(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	existing := port("old", 0.2)
	existing.Cell = "cell-A"
	mem.PutPoint(ctx, existing)

	src := &fakeSource{err: errors.New("connection refused")}
	w := New(mem, lonGrid{}, src, logger.L())

	points, cells, err := w.Warm(ctx)
	assert.Error(t, err)
	assert.Zero(t, points)
	assert.Zero(t, cells)
	// 降级结果是空缓存：后续查询逐次回源，而不是崩溃
	_, ok := mem.GetPoint(ctx, "old")
	assert.False(t, ok)
}
