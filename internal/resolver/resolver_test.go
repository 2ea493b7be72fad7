package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"port-api/internal/cache"
	"port-api/internal/geo"
	"port-api/internal/logger"
	"port-api/internal/model"
)

// fakeGrid：整数直线网格，单元格名为 cell-N，环距为下标差
// 背景：真实 H3 的环距无法在测试里精确摆位；解析器只依赖 Grid 接口语义
type fakeGrid struct {
	cells map[geo.Coordinate]string
}

func (g *fakeGrid) ToCell(c geo.Coordinate) (string, error) {
	if s, ok := g.cells[c]; ok {
		return s, nil
	}
	return "cell-0", nil
}

func (g *fakeGrid) CellToCoordinate(cell string) (geo.Coordinate, error) {
	return geo.Coordinate{}, nil
}

func cellIndex(cell string) (int, error) {
	s := strings.TrimPrefix(cell, "cell-")
	if s == cell {
		return 0, fmt.Errorf("bad cell %q", cell)
	}
	return strconv.Atoi(s)
}

func (g *fakeGrid) RingDistance(a, b string) (int, error) {
	ia, err := cellIndex(a)
	if err != nil {
		return 0, err
	}
	ib, err := cellIndex(b)
	if err != nil {
		return 0, err
	}
	if ia > ib {
		return ia - ib, nil
	}
	return ib - ia, nil
}

func (g *fakeGrid) CellsInRing(center string, k int) ([]string, error) {
	i, err := cellIndex(center)
	if err != nil {
		return nil, err
	}
	lo := i - k
	if lo < 0 {
		lo = 0
	}
	var out []string
	for j := lo; j <= i+k; j++ {
		out = append(out, "cell-"+strconv.Itoa(j))
	}
	return out, nil
}

func (g *fakeGrid) Neighbors(cell string) ([]string, error) {
	disk, err := g.CellsInRing(cell, 1)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range disk {
		if c != cell {
			out = append(out, c)
		}
	}
	return out, nil
}

func (g *fakeGrid) RequiredRings(radiusKm float64) int {
	k := int(radiusKm / 100)
	if float64(k)*100 < radiusKm {
		k++
	}
	if k > 10 {
		k = 10
	}
	return k
}

func (g *fakeGrid) Resolution() int  { return 7 }
func (g *fakeGrid) HardRingCap() int { return 10 }

type fakeStore struct {
	mu          sync.Mutex
	byID        map[string]model.Port
	unavailable bool
	nearbyCalls int
	getCalls    int
}

func newFakeStore(ports ...model.Port) *fakeStore {
	s := &fakeStore{byID: make(map[string]model.Port)}
	for _, p := range ports {
		s.byID[p.ID] = p
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id string) (model.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.unavailable {
		return model.Port{}, fmt.Errorf("%w: connection refused", model.ErrStoreUnavailable)
	}
	p, ok := s.byID[id]
	if !ok || !p.Active {
		return model.Port{}, model.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) FindNearby(_ context.Context, c geo.Coordinate, radiusKm float64) ([]model.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nearbyCalls++
	if s.unavailable {
		return nil, fmt.Errorf("%w: connection refused", model.ErrStoreUnavailable)
	}
	var out []model.Port
	for _, p := range s.byID {
		if p.Active && geo.DistanceKm(c, p.Coordinate) <= radiusKm {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu    sync.Mutex
	count int
}

func (f *fakeSink) QueryObserved(_ context.Context, _ string, _ geo.Coordinate) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

// 赤道上 1 度经度对应的公里数
const kmPerDegLonAtEquator = 111.1949266

func portAt(id, cell string, lonOffsetKm float64) model.Port {
	return model.Port{
		ID:         id,
		Name:       "Port " + id,
		Code:       "P" + id,
		Country:    "XX",
		Coordinate: geo.Coordinate{Lat: 0, Lon: lonOffsetKm / kmPerDegLonAtEquator},
		Cell:       cell,
		Active:     true,
	}
}

func newResolver(c cache.Spatial, s Store, gridOnly bool) (*Resolver, *fakeSink) {
	sink := &fakeSink{}
	g := &fakeGrid{cells: map[geo.Coordinate]string{}}
	return New(g, c, s, sink, gridOnly, logger.L()), sink
}

var origin = geo.Coordinate{Lat: 0, Lon: 0}

func TestGridDistanceDominatesScore(t *testing.T) {
	ctx := context.Background()
	// 环距 0/1/2 的三个候选，公里距离反而是 4 / 0.5 / 0.1
	a := portAt("a", "cell-0", 4.0)
	b := portAt("b", "cell-1", 0.5)
	c := portAt("c", "cell-2", 0.1)

	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	mem.PutCellEntry(ctx, "cell-0", []model.Port{a, b, c})
	st := newFakeStore(a, b, c)
	r, _ := newResolver(mem, st, false)

	m, err := r.FindNearest(ctx, origin, 0)
	require.NoError(t, err)
	// 环距压制公里距离：胜出者是同单元格的 a，尽管它的公里距离最大
	assert.Equal(t, "a", m.Port.ID)
	assert.Equal(t, 0, m.GridDistance)
	assert.InDelta(t, 4.0, m.DistanceKm, 0.05)
}

func TestShortCircuitOnFirstNonemptyRing(t *testing.T) {
	ctx := context.Background()
	near := portAt("near", "cell-1", 120)
	far := portAt("far", "cell-5", 2)

	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	mem.PutCellEntry(ctx, "cell-1", []model.Port{near})
	mem.PutCellEntry(ctx, "cell-5", []model.Port{far})
	st := newFakeStore(near, far)
	r, _ := newResolver(mem, st, false)

	m, err := r.FindNearest(ctx, origin, 0)
	require.NoError(t, err)
	// 首个非空环即止：不继续扩到 cell-5，即便 far 的公里距离更近
	assert.Equal(t, "near", m.Port.ID)
}

func TestRadiusBoundExcludesDistantPoint(t *testing.T) {
	ctx := context.Background()
	distant := portAt("d", "cell-0", 30)

	t.Run("cached candidate outside radius", func(t *testing.T) {
		mem := cache.NewMemory(cache.DefaultTTLs())
		t.Cleanup(mem.Close)
		mem.PutCellEntry(ctx, "cell-0", []model.Port{distant})
		st := newFakeStore(distant)
		r, _ := newResolver(mem, st, false)

		_, err := r.FindNearest(ctx, origin, 10)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("fallback candidate outside radius", func(t *testing.T) {
		mem := cache.NewMemory(cache.DefaultTTLs())
		t.Cleanup(mem.Close)
		st := newFakeStore(distant)
		r, _ := newResolver(mem, st, false)

		_, err := r.FindNearest(ctx, origin, 10)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestFallbackHydrationAndMemo(t *testing.T) {
	ctx := context.Background()
	p := portAt("p", "cell-0", 30)
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	st := newFakeStore(p)
	r, sink := newResolver(mem, st, false)

	m, err := r.FindNearest(ctx, origin, 50)
	require.NoError(t, err)
	assert.Equal(t, "p", m.Port.ID)
	assert.InDelta(t, 30, m.DistanceKm, 0.05)
	assert.Equal(t, 1, st.nearbyCalls)

	// 回填生效：点快照与单元格条目都进了缓存
	got, ok := mem.GetPoint(ctx, "p")
	require.True(t, ok)
	assert.Equal(t, "cell-0", got.Cell)

	// 再次查询走备忘，不再触发兜底检索
	m2, err := r.FindNearest(ctx, origin, 50)
	require.NoError(t, err)
	assert.Equal(t, "p", m2.Port.ID)
	assert.Equal(t, 1, st.nearbyCalls)
	assert.Equal(t, 2, sink.count)
}

func TestFallbackLadderEscalates(t *testing.T) {
	ctx := context.Background()
	// 只有一个 400km 外的点：无界查询应在 50km 档未命中后于 500km 档命中
	p := portAt("far", "cell-0", 400)
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	st := newFakeStore(p)
	r, _ := newResolver(mem, st, false)

	m, err := r.FindNearest(ctx, origin, 0)
	require.NoError(t, err)
	assert.Equal(t, "far", m.Port.ID)
	assert.Equal(t, 3, st.nearbyCalls) // 50, 200, 500
}

func TestStalenessGuardRejectsRemovedPort(t *testing.T) {
	ctx := context.Background()
	ghost := portAt("ghost", "cell-0", 5)
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	mem.PutPoint(ctx, ghost)
	st := newFakeStore() // 权威库已无此点
	r, _ := newResolver(mem, st, false)

	_, err := r.FindNearest(ctx, origin, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// 失效彻底：点快照、单元格条目、备忘均被清理
	_, ok := mem.GetPoint(ctx, "ghost")
	assert.False(t, ok)
	assert.Empty(t, mem.GetPointsInCell(ctx, "cell-0"))
	_, ok = mem.GetMemo(ctx, origin, 0)
	assert.False(t, ok)
}

func TestStalenessGuardRetryFindsReplacement(t *testing.T) {
	ctx := context.Background()
	ghost := portAt("ghost", "cell-0", 5)
	alive := portAt("alive", "cell-0", 8)
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	mem.PutCellEntry(ctx, "cell-0", []model.Port{ghost})
	st := newFakeStore(alive)
	r, _ := newResolver(mem, st, false)

	// 第一轮命中 ghost 被复核否决；重试经兜底拿到 alive
	m, err := r.FindNearest(ctx, origin, 0)
	require.NoError(t, err)
	assert.Equal(t, "alive", m.Port.ID)
}

func TestStaleMemoNotReturned(t *testing.T) {
	ctx := context.Background()
	ghost := portAt("ghost", "cell-0", 5)
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	mem.PutMemo(ctx, origin, 0, model.Match{Port: ghost, DistanceKm: 5, GridDistance: 0})
	st := newFakeStore()
	r, _ := newResolver(mem, st, false)

	// 备忘命中的结果同样要过陈旧性复核
	_, err := r.FindNearest(ctx, origin, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, ok := mem.GetMemo(ctx, origin, 0)
	assert.False(t, ok)
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("required fallback surfaces distinct error", func(t *testing.T) {
		mem := cache.NewMemory(cache.DefaultTTLs())
		t.Cleanup(mem.Close)
		st := newFakeStore()
		st.unavailable = true
		r, _ := newResolver(mem, st, false)

		_, err := r.FindNearest(ctx, origin, 50)
		assert.ErrorIs(t, err, model.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("staleness guard trusts cache when store is down", func(t *testing.T) {
		p := portAt("p", "cell-0", 5)
		mem := cache.NewMemory(cache.DefaultTTLs())
		t.Cleanup(mem.Close)
		mem.PutCellEntry(ctx, "cell-0", []model.Port{p})
		st := newFakeStore(p)
		st.unavailable = true
		r, _ := newResolver(mem, st, false)

		m, err := r.FindNearest(ctx, origin, 0)
		require.NoError(t, err)
		assert.Equal(t, "p", m.Port.ID)
	})
}

func TestGridOnlyMode(t *testing.T) {
	ctx := context.Background()
	p := portAt("p", "cell-0", 5)

	t.Run("no fallback", func(t *testing.T) {
		mem := cache.NewMemory(cache.DefaultTTLs())
		t.Cleanup(mem.Close)
		st := newFakeStore(p)
		r, _ := newResolver(mem, st, true)

		_, err := r.FindNearest(ctx, origin, 50)
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.Equal(t, 0, st.nearbyCalls)
	})

	t.Run("no memo short circuit", func(t *testing.T) {
		mem := cache.NewMemory(cache.DefaultTTLs())
		t.Cleanup(mem.Close)
		mem.PutMemo(ctx, origin, 50, model.Match{Port: p, DistanceKm: 5, GridDistance: 0})
		st := newFakeStore(p)
		r, _ := newResolver(mem, st, true)

		_, err := r.FindNearest(ctx, origin, 50)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestFindAllWithinRadius(t *testing.T) {
	ctx := context.Background()
	dists := []float64{10, 150, 99.9, 0, 100.1}
	ports := make([]model.Port, 0, len(dists))
	for i, d := range dists {
		ports = append(ports, portAt("p"+strconv.Itoa(i), "cell-0", d))
	}
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	mem.PutCellEntry(ctx, "cell-0", ports)
	st := newFakeStore(ports...)
	r, _ := newResolver(mem, st, false)

	out, err := r.FindAllWithinRadius(ctx, origin, 100)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.InDelta(t, 0, out[0].DistanceKm, 0.05)
	assert.InDelta(t, 10, out[1].DistanceKm, 0.05)
	assert.InDelta(t, 99.9, out[2].DistanceKm, 0.05)
}

func TestFindAllWithinRadiusHydratesEmptyCache(t *testing.T) {
	ctx := context.Background()
	p := portAt("p", "cell-0", 40)
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	st := newFakeStore(p)
	r, _ := newResolver(mem, st, false)

	out, err := r.FindAllWithinRadius(ctx, origin, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "p", out[0].Port.ID)
	_, ok := mem.GetPoint(ctx, "p")
	assert.True(t, ok)
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	r, _ := newResolver(mem, newFakeStore(), false)

	_, err := r.FindNearest(ctx, geo.Coordinate{Lat: 91, Lon: 0}, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = r.FindAllWithinRadius(ctx, origin, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = r.FindAllWithinRadius(ctx, origin, -5)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = r.GridInfo(geo.Coordinate{Lat: 0, Lon: 181})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestGridInfo(t *testing.T) {
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	r, _ := newResolver(mem, newFakeStore(), false)

	info, err := r.GridInfo(origin)
	require.NoError(t, err)
	assert.Equal(t, "cell-0", info.Cell)
	assert.Equal(t, 7, info.Resolution)
	assert.NotEmpty(t, info.Neighbors)
	assert.NotContains(t, info.Neighbors, "cell-0")
}

func TestFallbackRecomputesCellLocally(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(cache.DefaultTTLs())
	t.Cleanup(mem.Close)
	// 库中存量 cell 列来自别的分辨率，环距无法解释；回填必须以本地重算为准
	p := portAt("a", "8a2f5aad9173fff", 10)
	st := newFakeStore(p)
	r, _ := newResolver(mem, st, false)

	m, err := r.FindNearest(ctx, origin, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", m.Port.ID)
	assert.Equal(t, "cell-0", m.Port.Cell)
	assert.Equal(t, 0, m.GridDistance)

	cached, ok := mem.GetPoint(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "cell-0", cached.Cell)
	assert.Empty(t, mem.GetPointsInCell(ctx, "8a2f5aad9173fff"))
}
