// 包 warmer：全量预热空间缓存
// 背景：冷缓存下所有查询都要回源；启动（或手动触发）时一次性拉取全部有效港口，
// 按单元格分组写入。拉取失败只意味着缓存保持为空，查询退化到逐次回源，不许崩溃。
package warmer

import (
	"context"
	"log/slog"
	"time"

	"port-api/internal/cache"
	"port-api/internal/geo"
	"port-api/internal/metrics"
	"port-api/internal/model"
)

type PortSource interface {
	FetchAllActive(ctx context.Context) ([]model.Port, error)
}

type CellMapper interface {
	ToCell(c geo.Coordinate) (string, error)
}

type Warmer struct {
	cache cache.Spatial
	grid  CellMapper
	store PortSource
	log   *slog.Logger
}

func New(c cache.Spatial, g CellMapper, s PortSource, log *slog.Logger) *Warmer {
	return &Warmer{cache: c, grid: g, store: s, log: log}
}

// Warm：清空缓存后全量重建，返回写入的点数与单元格数
// 约束：单元格以本地网格重算为准，不信任库中存量的 cell 列
func (w *Warmer) Warm(ctx context.Context) (points, cells int, err error) {
	w.cache.ClearAll(ctx)
	ports, err := w.store.FetchAllActive(ctx)
	if err != nil {
		// 缓存保持为空，查询退化到逐次回源
		w.log.Error("warm_fetch_failed", "err", err)
		return 0, 0, err
	}
	groups := make(map[string][]model.Port)
	for _, p := range ports {
		cell, cellErr := w.grid.ToCell(p.Coordinate)
		if cellErr != nil {
			w.log.Warn("warm_cell_compute_failed", "port_id", p.ID, "err", cellErr)
			continue
		}
		p.Cell = cell
		groups[cell] = append(groups[cell], p)
	}
	for cell, group := range groups {
		w.cache.PutCellEntry(ctx, cell, group)
		for _, p := range group {
			w.cache.PutPoint(ctx, p)
			points++
		}
	}
	cells = len(groups)
	metrics.WarmPointsTotal.Set(float64(points))
	metrics.WarmCellsTotal.Set(float64(cells))
	w.log.Info("warm_done", "points", points, "cells", cells)
	return points, cells, nil
}

// RunAtStartup：延迟预热，等待协作方就绪
// 背景：容器编排下 Redis/Postgres 往往晚于本服务可达；失败仅记日志
func (w *Warmer) RunAtStartup(ctx context.Context, delay time.Duration) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if _, _, err := w.Warm(ctx); err != nil {
			w.log.Warn("startup_warm_skipped", "err", err)
		}
	}()
}
