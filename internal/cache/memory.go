package cache

import (
	"context"
	"sync"
	"time"

	"port-api/internal/geo"
	"port-api/internal/model"
)

// 文档注释：进程内 TTL 缓存实现
// 背景：Redis 未配置时的降级实现，也是测试桩；读路径惰性判断过期，
// 后台周期清理防止长驻条目泄漏。
// 约束：单进程可见，不跨实例共享；容量不设上限，依赖 TTL 收敛。
type Memory struct {
	mu       sync.RWMutex
	points   map[string]memItem
	cells    map[string]memItem
	memos    map[string]memItem
	ttls     TTLs
	stop     chan struct{}
	stopOnce sync.Once
}

type memItem struct {
	v   any
	exp time.Time
}

func NewMemory(ttls TTLs) *Memory {
	m := &Memory{
		points: make(map[string]memItem),
		cells:  make(map[string]memItem),
		memos:  make(map[string]memItem),
		ttls:   ttls,
		stop:   make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *Memory) cleanup() {
	tk := time.NewTicker(time.Minute)
	defer tk.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-tk.C:
		}
		now := time.Now()
		m.mu.Lock()
		for _, dict := range []map[string]memItem{m.points, m.cells, m.memos} {
			for k, it := range dict {
				if now.After(it.exp) {
					delete(dict, k)
				}
			}
		}
		m.mu.Unlock()
	}
}

// Close：停止后台清理协程。幂等，关闭后读写仍可用（仅靠惰性过期）。
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) get(dict map[string]memItem, k string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := dict[k]
	if !ok || time.Now().After(it.exp) {
		return nil, false
	}
	return it.v, true
}

func (m *Memory) PutPoint(_ context.Context, p model.Port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[p.ID] = memItem{v: p, exp: time.Now().Add(m.ttls.Point)}
	var ports []model.Port
	if it, ok := m.cells[p.Cell]; ok && time.Now().Before(it.exp) {
		ports = it.v.([]model.Port)
	}
	m.cells[p.Cell] = memItem{v: upsertPort(ports, p), exp: time.Now().Add(m.ttls.Cell)}
}

func (m *Memory) GetPoint(_ context.Context, id string) (model.Port, bool) {
	v, ok := m.get(m.points, id)
	if !ok {
		return model.Port{}, false
	}
	return v.(model.Port), true
}

func (m *Memory) GetPointsInCell(_ context.Context, cell string) []model.Port {
	v, ok := m.get(m.cells, cell)
	if !ok {
		return nil
	}
	return filterActive(v.([]model.Port))
}

func (m *Memory) PutCellEntry(_ context.Context, cell string, ports []model.Port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells[cell] = memItem{v: append([]model.Port(nil), ports...), exp: time.Now().Add(m.ttls.Cell)}
}

func (m *Memory) RemovePoint(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
}

func (m *Memory) RemoveCellEntry(_ context.Context, cell string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cells, cell)
}

func (m *Memory) RemovePointFromCell(_ context.Context, cell, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.cells[cell]
	if !ok {
		return
	}
	m.cells[cell] = memItem{v: removePort(it.v.([]model.Port), id), exp: it.exp}
}

func (m *Memory) GetMemo(_ context.Context, c geo.Coordinate, radiusKm float64) (model.Match, bool) {
	v, ok := m.get(m.memos, memoKey(c, bucketFor(radiusKm)))
	if !ok {
		return model.Match{}, false
	}
	return v.(model.Match), true
}

func (m *Memory) PutMemo(_ context.Context, c geo.Coordinate, radiusKm float64, match model.Match) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memos[memoKey(c, bucketFor(radiusKm))] = memItem{v: match, exp: time.Now().Add(m.ttls.Memo)}
}

func (m *Memory) InvalidateMemo(_ context.Context, c geo.Coordinate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range allBuckets() {
		delete(m.memos, memoKey(c, b))
	}
}

func (m *Memory) ClearAll(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]memItem)
	m.cells = make(map[string]memItem)
	m.memos = make(map[string]memItem)
}

func upsertPort(ports []model.Port, p model.Port) []model.Port {
	for i := range ports {
		if ports[i].ID == p.ID {
			out := append([]model.Port(nil), ports...)
			out[i] = p
			return out
		}
	}
	return append(append([]model.Port(nil), ports...), p)
}

func removePort(ports []model.Port, id string) []model.Port {
	out := make([]model.Port, 0, len(ports))
	for _, p := range ports {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func filterActive(ports []model.Port) []model.Port {
	out := make([]model.Port, 0, len(ports))
	for _, p := range ports {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}
