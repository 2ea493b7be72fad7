// 包 resolver：最近港口解析引擎
// 背景：查询先走备忘，再做环扩散检索，空结果时按半径阶梯回源权威库并回填缓存；
// 胜出候选在返回前必须通过陈旧性复核。整条路径上缓存失败只降级不报错。
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"port-api/internal/cache"
	"port-api/internal/geo"
	"port-api/internal/metrics"
	"port-api/internal/model"
)

// Grid：网格索引依赖（由 internal/grid 提供实现）
type Grid interface {
	ToCell(c geo.Coordinate) (string, error)
	CellToCoordinate(cell string) (geo.Coordinate, error)
	RingDistance(a, b string) (int, error)
	CellsInRing(center string, k int) ([]string, error)
	Neighbors(cell string) ([]string, error)
	RequiredRings(radiusKm float64) int
	Resolution() int
	HardRingCap() int
}

// Store：权威库依赖
// 约束：GetByID 对不存在（含已停用）返回 model.ErrNotFound；
// 不可达一律包裹 model.ErrStoreUnavailable
type Store interface {
	GetByID(ctx context.Context, id string) (model.Port, error)
	FindNearby(ctx context.Context, c geo.Coordinate, radiusKm float64) ([]model.Port, error)
}

// Sink：查询观测事件出口（fire-and-forget）
type Sink interface {
	QueryObserved(ctx context.Context, requestID string, c geo.Coordinate)
}

// 回源半径阶梯（公里）：无界查询逐级放大，止于首个命中
var fallbackLadderKm = []float64{50, 200, 500, 1000, 2000, 5000, 10000}

// 有界查询的单次回源半径上限
const boundedFallbackCapKm = 200

// 陈旧性复核触发的重试上限
// 背景：持续不一致的数据不允许无限重查；一次重试已满足一致性承诺
const maxStaleRetries = 1

type Resolver struct {
	grid     Grid
	cache    cache.Spatial
	store    Store
	sink     Sink
	gridOnly bool
	log      *slog.Logger
}

func New(g Grid, c cache.Spatial, s Store, sink Sink, gridOnly bool, log *slog.Logger) *Resolver {
	return &Resolver{grid: g, cache: c, store: s, sink: sink, gridOnly: gridOnly, log: log}
}

// GridInfo：诊断信息
type GridInfo struct {
	Cell       string   `json:"cell"`
	Resolution int      `json:"resolution"`
	Neighbors  []string `json:"neighbors"`
}

// FindNearest：解析坐标的最近有效港口
// 参数：radiusKm <= 0 表示无界
// 返回：命中的 Match；无候选时返回 model.ErrNotFound；
// 必须回源而权威库不可达时返回 model.ErrStoreUnavailable
func (r *Resolver) FindNearest(ctx context.Context, q geo.Coordinate, radiusKm float64) (model.Match, error) {
	var zero model.Match
	if err := q.Validate(); err != nil {
		return zero, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	begin := time.Now()
	metrics.QueriesTotal.Inc()
	defer func() {
		metrics.QueryDurationMs.Observe(float64(time.Since(begin).Milliseconds()))
	}()
	r.sink.QueryObserved(ctx, uuid.NewString(), q)

	for attempt := 0; attempt <= maxStaleRetries; attempt++ {
		m, ok, err := r.resolveOnce(ctx, q, radiusKm, attempt)
		if err != nil {
			return zero, err
		}
		if !ok {
			metrics.NotFoundTotal.Inc()
			return zero, model.ErrNotFound
		}

		// 陈旧性复核：胜出候选必须仍存在于权威库
		_, err = r.store.GetByID(ctx, m.Port.ID)
		if err == nil {
			r.cache.PutMemo(ctx, q, radiusKm, m)
			return m, nil
		}
		if errors.Is(err, model.ErrNotFound) {
			metrics.StaleDetectedTotal.Inc()
			r.log.Info("stale_match_invalidated", "port_id", m.Port.ID, "cell", m.Port.Cell, "attempt", attempt)
			r.cache.RemovePoint(ctx, m.Port.ID)
			r.cache.RemoveCellEntry(ctx, m.Port.Cell)
			r.cache.InvalidateMemo(ctx, q)
			continue
		}
		// 权威库不可达：跳过复核、信任缓存，而不是把候选当作陈旧数据丢弃
		r.log.Warn("staleness_guard_skipped", "port_id", m.Port.ID, "err", err)
		r.cache.PutMemo(ctx, q, radiusKm, m)
		return m, nil
	}
	metrics.NotFoundTotal.Inc()
	return zero, model.ErrNotFound
}

// resolveOnce：一次完整的 备忘→环检索→回源 流程
// 约束：重试轮次跳过备忘（上一轮刚失效）；grid-only 模式禁用备忘短路与回源
func (r *Resolver) resolveOnce(ctx context.Context, q geo.Coordinate, radiusKm float64, attempt int) (model.Match, bool, error) {
	var zero model.Match
	if !r.gridOnly && attempt == 0 {
		if m, ok := r.cache.GetMemo(ctx, q, radiusKm); ok {
			if radiusKm <= 0 || m.DistanceKm <= radiusKm {
				metrics.MemoHitsTotal.Inc()
				return m, true, nil
			}
		}
		metrics.MemoMissesTotal.Inc()
	}

	qCell, err := r.grid.ToCell(q)
	if err != nil {
		return zero, false, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}

	cands := r.findViaGrid(ctx, qCell, radiusKm)
	if len(cands) == 0 && !r.gridOnly {
		cands, err = r.fallback(ctx, q, radiusKm)
		if err != nil {
			return zero, false, err
		}
	}
	m, ok := r.pickBest(q, qCell, cands, radiusKm)
	return m, ok, nil
}

// findViaGrid：从 0 环向外扩散，收到任意候选即止
// 背景：短路是刻意的性能取舍——不保证混合度量下更远环里不存在更优点；
// 这是既定行为而不是待修的缺陷。
func (r *Resolver) findViaGrid(ctx context.Context, qCell string, radiusKm float64) []model.Port {
	maxRing := r.grid.HardRingCap()
	if radiusKm > 0 {
		if k := r.grid.RequiredRings(radiusKm); k < maxRing {
			maxRing = k
		}
	}
	for k := 0; k <= maxRing; k++ {
		cells, err := r.grid.CellsInRing(qCell, k)
		if err != nil {
			r.log.Warn("ring_enumeration_failed", "cell", qCell, "k", k, "err", err)
			return nil
		}
		var cands []model.Port
		for _, cell := range cells {
			cands = append(cands, r.cache.GetPointsInCell(ctx, cell)...)
		}
		if len(cands) > 0 {
			metrics.CellHitsTotal.Inc()
			return dedupByID(cands)
		}
	}
	metrics.CellMissesTotal.Inc()
	return nil
}

// fallback：按半径阶梯回源权威库，首个非空结果回填缓存后参与评分
// 约束：有界查询只做一次 min(radius, 200km) 尝试；
// 库不可达必须以独立错误上浮，不得伪装成"未找到"
func (r *Resolver) fallback(ctx context.Context, q geo.Coordinate, radiusKm float64) ([]model.Port, error) {
	ladder := fallbackLadderKm
	if radiusKm > 0 {
		ladder = []float64{math.Min(radiusKm, boundedFallbackCapKm)}
	}
	for _, rad := range ladder {
		metrics.FallbackAttemptsTotal.Inc()
		pts, err := r.store.FindNearby(ctx, q, rad)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			continue
		}
		metrics.FallbackHitsTotal.Inc()
		// 单元格以本地网格重算为准，不信任库中存量的 cell 列（与预热、同步的写路径一致）
		out := pts[:0]
		for _, p := range pts {
			cell, cerr := r.grid.ToCell(p.Coordinate)
			if cerr != nil {
				r.log.Warn("fallback_cell_recompute_failed", "port_id", p.ID, "err", cerr)
				continue
			}
			p.Cell = cell
			r.cache.PutPoint(ctx, p)
			out = append(out, p)
		}
		r.log.Debug("fallback_hydrated", "radius_km", rad, "points", len(out))
		return out, nil
	}
	return nil, nil
}

// pickBest：混合评分取最小
// 背景：score = 环距*1000 + 公里距离。环距差 1 以上必然压过任何现实的公里差，
// 公里距离只在同环候选间作决胜。
// 约束：环距超过硬上限的候选一律出局，与请求半径无关；有界查询再按公里半径过滤
func (r *Resolver) pickBest(q geo.Coordinate, qCell string, cands []model.Port, radiusKm float64) (model.Match, bool) {
	best := model.Match{}
	bestScore := math.Inf(1)
	found := false
	for _, p := range cands {
		gd, err := r.grid.RingDistance(qCell, p.Cell)
		if err != nil {
			r.log.Warn("ring_distance_failed", "port_id", p.ID, "cell", p.Cell, "err", err)
			continue
		}
		if gd > r.grid.HardRingCap() {
			continue
		}
		hav := geo.DistanceKm(q, p.Coordinate)
		if radiusKm > 0 && hav > radiusKm {
			continue
		}
		score := float64(gd)*1000 + hav
		if score < bestScore {
			bestScore = score
			best = model.Match{Port: p, DistanceKm: hav, GridDistance: gd}
			found = true
		}
	}
	return best, found
}

// FindAllWithinRadius：半径内全部港口，按公里距离升序
// 背景：与单点查询不同——不做首环短路，总是扫满换算出的全部环；
// 输出排序契约是公里距离而非混合评分
func (r *Resolver) FindAllWithinRadius(ctx context.Context, q geo.Coordinate, radiusKm float64) ([]model.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", model.ErrInvalidInput)
	}
	metrics.QueriesTotal.Inc()
	r.sink.QueryObserved(ctx, uuid.NewString(), q)

	qCell, err := r.grid.ToCell(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	cells, err := r.grid.CellsInRing(qCell, r.grid.RequiredRings(radiusKm))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	var cands []model.Port
	for _, cell := range cells {
		cands = append(cands, r.cache.GetPointsInCell(ctx, cell)...)
	}
	cands = dedupByID(cands)
	if len(cands) == 0 && !r.gridOnly {
		cands, err = r.fallback(ctx, q, radiusKm)
		if err != nil {
			return nil, err
		}
	}

	out := make([]model.Match, 0, len(cands))
	for _, p := range cands {
		hav := geo.DistanceKm(q, p.Coordinate)
		if hav > radiusKm {
			continue
		}
		gd, err := r.grid.RingDistance(qCell, p.Cell)
		if err != nil {
			continue
		}
		out = append(out, model.Match{Port: p, DistanceKm: hav, GridDistance: gd})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// GridInfo：坐标所在单元格与紧邻单元格（诊断用）
func (r *Resolver) GridInfo(q geo.Coordinate) (GridInfo, error) {
	if err := q.Validate(); err != nil {
		return GridInfo{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	cell, err := r.grid.ToCell(q)
	if err != nil {
		return GridInfo{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	ns, err := r.grid.Neighbors(cell)
	if err != nil {
		return GridInfo{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	return GridInfo{Cell: cell, Resolution: r.grid.Resolution(), Neighbors: ns}, nil
}

func dedupByID(ports []model.Port) []model.Port {
	seen := make(map[string]bool, len(ports))
	out := make([]model.Port, 0, len(ports))
	for _, p := range ports {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}
