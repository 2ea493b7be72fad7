package cache

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"port-api/internal/geo"
	"port-api/internal/metrics"
	"port-api/internal/model"
)

// 文档注释：Redis 空间缓存实现
// 背景：多实例部署时共享缓存与失效事件；负载为 JSON 文本，键前缀 ports:。
// 约束：单元格条目更新是读-改-写，同单元格并发写可能互相覆盖——缓存是建议性的，
// 接受软一致损失；序列化或连接失败一律降级为未命中并记 warn。
type Redis struct {
	rc   *redis.Client
	ttls TTLs
	log  *slog.Logger
}

func NewRedis(rc *redis.Client, ttls TTLs, log *slog.Logger) *Redis {
	return &Redis{rc: rc, ttls: ttls, log: log}
}

func (r *Redis) warn(op string, err error) {
	metrics.CacheErrorsTotal.Inc()
	r.log.Warn("cache_op_failed", "op", op, "err", err)
}

func (r *Redis) PutPoint(ctx context.Context, p model.Port) {
	b, err := json.Marshal(p)
	if err != nil {
		r.warn("put_point_marshal", err)
		return
	}
	if err := r.rc.Set(ctx, pointKey(p.ID), b, r.ttls.Point).Err(); err != nil {
		r.warn("put_point", err)
		return
	}
	ports := r.readCell(ctx, p.Cell)
	r.PutCellEntry(ctx, p.Cell, upsertPort(ports, p))
}

func (r *Redis) GetPoint(ctx context.Context, id string) (model.Port, bool) {
	s, err := r.rc.Get(ctx, pointKey(id)).Result()
	if err == redis.Nil {
		return model.Port{}, false
	}
	if err != nil {
		r.warn("get_point", err)
		return model.Port{}, false
	}
	var p model.Port
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		r.warn("get_point_unmarshal", err)
		return model.Port{}, false
	}
	return p, true
}

func (r *Redis) readCell(ctx context.Context, cell string) []model.Port {
	s, err := r.rc.Get(ctx, cellKey(cell)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		r.warn("get_cell", err)
		return nil
	}
	var ports []model.Port
	if err := json.Unmarshal([]byte(s), &ports); err != nil {
		r.warn("get_cell_unmarshal", err)
		return nil
	}
	return ports
}

func (r *Redis) GetPointsInCell(ctx context.Context, cell string) []model.Port {
	return filterActive(r.readCell(ctx, cell))
}

func (r *Redis) PutCellEntry(ctx context.Context, cell string, ports []model.Port) {
	b, err := json.Marshal(ports)
	if err != nil {
		r.warn("put_cell_marshal", err)
		return
	}
	if err := r.rc.Set(ctx, cellKey(cell), b, r.ttls.Cell).Err(); err != nil {
		r.warn("put_cell", err)
	}
}

func (r *Redis) RemovePoint(ctx context.Context, id string) {
	if err := r.rc.Del(ctx, pointKey(id)).Err(); err != nil {
		r.warn("remove_point", err)
	}
}

func (r *Redis) RemoveCellEntry(ctx context.Context, cell string) {
	if err := r.rc.Del(ctx, cellKey(cell)).Err(); err != nil {
		r.warn("remove_cell", err)
	}
}

func (r *Redis) RemovePointFromCell(ctx context.Context, cell, id string) {
	ports := r.readCell(ctx, cell)
	if len(ports) == 0 {
		return
	}
	r.PutCellEntry(ctx, cell, removePort(ports, id))
}

func (r *Redis) GetMemo(ctx context.Context, c geo.Coordinate, radiusKm float64) (model.Match, bool) {
	s, err := r.rc.Get(ctx, memoKey(c, bucketFor(radiusKm))).Result()
	if err == redis.Nil {
		return model.Match{}, false
	}
	if err != nil {
		r.warn("get_memo", err)
		return model.Match{}, false
	}
	var m model.Match
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		r.warn("get_memo_unmarshal", err)
		return model.Match{}, false
	}
	return m, true
}

func (r *Redis) PutMemo(ctx context.Context, c geo.Coordinate, radiusKm float64, m model.Match) {
	b, err := json.Marshal(m)
	if err != nil {
		r.warn("put_memo_marshal", err)
		return
	}
	if err := r.rc.Set(ctx, memoKey(c, bucketFor(radiusKm)), b, r.ttls.Memo).Err(); err != nil {
		r.warn("put_memo", err)
	}
}

func (r *Redis) InvalidateMemo(ctx context.Context, c geo.Coordinate) {
	keys := make([]string, 0, 16)
	for _, b := range allBuckets() {
		keys = append(keys, memoKey(c, b))
	}
	if err := r.rc.Del(ctx, keys...).Err(); err != nil {
		r.warn("invalidate_memo", err)
	}
}

// ClearAll：按前缀扫描删除全部缓存键
// 约束：SCAN 渐进遍历，避免 KEYS 阻塞；仅预热器调用
func (r *Redis) ClearAll(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := r.rc.Scan(ctx, cursor, "ports:*", 500).Result()
		if err != nil {
			r.warn("clear_scan", err)
			return
		}
		if len(keys) > 0 {
			if err := r.rc.Del(ctx, keys...).Err(); err != nil {
				r.warn("clear_del", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
