// 包 syncer：变更事件消费者，维持空间缓存与权威库的最终一致
// 背景：事件按 port_id 分区有序、至少一次投递；所有处理器必须幂等，
// 并把"缓存里没有这个点"当作 no-op 而不是错误（冷缓存或已被驱逐都属正常）。
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"port-api/internal/cache"
	"port-api/internal/geo"
	"port-api/internal/metrics"
	"port-api/internal/model"
)

// CellMapper：坐标到单元格的映射依赖
type CellMapper interface {
	ToCell(c geo.Coordinate) (string, error)
}

type Syncer struct {
	cache cache.Spatial
	grid  CellMapper
	log   *slog.Logger
}

func New(c cache.Spatial, g CellMapper, log *slog.Logger) *Syncer {
	return &Syncer{cache: c, grid: g, log: log}
}

// Run：订阅变更通道并逐条应用，解码失败记日志后丢弃
// 约束：go-redis 的 PubSub 自动重连；ctx 取消时退出
func (s *Syncer) Run(ctx context.Context, rc *redis.Client, channel string) {
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()
	s.log.Info("syncer_started", "channel", channel)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("syncer_stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				s.log.Info("syncer_channel_closed")
				return
			}
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				metrics.SyncDroppedTotal.Inc()
				s.log.Warn("event_decode_failed", "err", err)
				continue
			}
			s.Apply(ctx, ev)
		}
	}
}

// Apply：应用单条变更事件（导出以便直接注入测试）
func (s *Syncer) Apply(ctx context.Context, ev model.ChangeEvent) {
	if err := ev.Validate(); err != nil {
		metrics.SyncDroppedTotal.Inc()
		s.log.Warn("event_rejected", "err", err)
		return
	}
	switch ev.Type {
	case model.EventCreated:
		s.applyCreated(ctx, ev)
	case model.EventUpdated:
		s.applyUpdated(ctx, ev)
	case model.EventRelocated:
		s.applyRelocated(ctx, ev)
	case model.EventDeleted:
		s.applyDeleted(ctx, ev)
	}
	metrics.SyncEventsTotal.WithLabelValues(string(ev.Type)).Inc()
}

// applyCreated：重算单元格后写入快照并并入单元格条目
// 约束：不信任事件携带的 cell 字段，以本地网格计算为准
func (s *Syncer) applyCreated(ctx context.Context, ev model.ChangeEvent) {
	p := *ev.Port
	cell, err := s.grid.ToCell(p.Coordinate)
	if err != nil {
		metrics.SyncDroppedTotal.Inc()
		s.log.Warn("event_cell_compute_failed", "port_id", ev.PortID, "err", err)
		return
	}
	p.Cell = cell
	s.cache.PutPoint(ctx, p)
	s.log.Debug("sync_created", "port_id", p.ID, "cell", cell)
}

// applyUpdated：移除旧快照与旧单元格成员后写入新状态
// 已知缺陷：备忘只按新坐标失效，旧位置的备忘要等 TTL 自然过期（沿用参考行为）
func (s *Syncer) applyUpdated(ctx context.Context, ev model.ChangeEvent) {
	p := *ev.Port
	cell, err := s.grid.ToCell(p.Coordinate)
	if err != nil {
		metrics.SyncDroppedTotal.Inc()
		s.log.Warn("event_cell_compute_failed", "port_id", ev.PortID, "err", err)
		return
	}
	if prev, ok := s.cache.GetPoint(ctx, ev.PortID); ok && prev.Cell != cell {
		s.cache.RemovePointFromCell(ctx, prev.Cell, ev.PortID)
	}
	s.cache.RemovePoint(ctx, ev.PortID)
	p.Cell = cell
	s.cache.PutPoint(ctx, p)
	s.cache.InvalidateMemo(ctx, p.Coordinate)
	s.log.Debug("sync_updated", "port_id", p.ID, "cell", cell)
}

// applyRelocated：单元格变更（坐标未变的搬迁通知）
// 约束：old_cell 缺失时退回缓存里的旧快照定位；两者皆无则只能尽力而为
func (s *Syncer) applyRelocated(ctx context.Context, ev model.ChangeEvent) {
	oldCell := ev.OldCell
	prev, havePrev := s.cache.GetPoint(ctx, ev.PortID)
	if oldCell == "" && havePrev {
		oldCell = prev.Cell
	}
	if oldCell != "" && oldCell != ev.NewCell {
		s.cache.RemovePointFromCell(ctx, oldCell, ev.PortID)
	}
	if havePrev {
		prev.Cell = ev.NewCell
		s.cache.PutPoint(ctx, prev)
	}
	s.log.Debug("sync_relocated", "port_id", ev.PortID, "old_cell", oldCell, "new_cell", ev.NewCell)
}

// applyDeleted：移除快照与单元格成员，尽力失效关联备忘
func (s *Syncer) applyDeleted(ctx context.Context, ev model.ChangeEvent) {
	cell := ev.Cell
	if prev, ok := s.cache.GetPoint(ctx, ev.PortID); ok && cell == "" {
		cell = prev.Cell
	}
	s.cache.RemovePoint(ctx, ev.PortID)
	if cell != "" {
		s.cache.RemovePointFromCell(ctx, cell, ev.PortID)
	}
	if ev.Coordinate != nil {
		s.cache.InvalidateMemo(ctx, *ev.Coordinate)
	}
	s.log.Debug("sync_deleted", "port_id", ev.PortID, "cell", cell)
}
