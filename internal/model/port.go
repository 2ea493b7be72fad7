// 包 model：港口领域的最小数据结构与错误分类
package model

import (
	"errors"

	"port-api/internal/geo"
)

// 错误分类（对应查询路径的三类非成功结果）
// 背景：NotFound 是合法终态而非异常；StoreUnavailable 必须与 NotFound 区分开，
// 避免把"权威库不可达"当作"点不存在"处理。
var (
	ErrNotFound         = errors.New("no matching port")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("authoritative store unavailable")
)

// Port：港口快照
// 约束：Cell 必须等于网格索引对坐标的计算结果；坐标变更方负责原子地重算 Cell。
// 权威记录归属数据库；缓存持有的是可能过期的反规范化副本。
type Port struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Code       string         `json:"code"`
	Country    string         `json:"country"`
	Coordinate geo.Coordinate `json:"coordinate"`
	Cell       string         `json:"cell"`
	Active     bool           `json:"active"`
}

// Match：最近港口查询的结果
type Match struct {
	Port         Port    `json:"port"`
	DistanceKm   float64 `json:"distance_km"`
	GridDistance int     `json:"grid_distance"`
}
