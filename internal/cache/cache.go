// 包 cache：空间缓存（单元格索引 + 点快照 + 查询结果备忘）
// 背景：缓存是查询路径的加速层而非正确性依赖；任何缓存操作失败只允许退化为未命中，
// 不允许让调用方的请求失败。因此接口不返回错误，失败在实现内部记日志并吞掉。
// 约束：三类条目各自独立过期：单元格条目最长（默认 2h），点快照居中（1h），
// 备忘最短（30m），因为备忘相对外部写入最容易过期。
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"port-api/internal/geo"
	"port-api/internal/model"
)

type Spatial interface {
	// PutPoint：写入/覆盖点快照，并把点并入其当前单元格条目
	// 约束：只向点自带的单元格追加；搬迁时从旧单元格移除由同步器负责
	PutPoint(ctx context.Context, p model.Port)
	GetPoint(ctx context.Context, id string) (model.Port, bool)
	// GetPointsInCell：读取单元格内的点，读取时过滤掉已停用的点
	GetPointsInCell(ctx context.Context, cell string) []model.Port
	// PutCellEntry：整体替换单元格条目
	PutCellEntry(ctx context.Context, cell string, ports []model.Port)
	RemovePoint(ctx context.Context, id string)
	RemoveCellEntry(ctx context.Context, cell string)
	RemovePointFromCell(ctx context.Context, cell, id string)

	GetMemo(ctx context.Context, c geo.Coordinate, radiusKm float64) (model.Match, bool)
	PutMemo(ctx context.Context, c geo.Coordinate, radiusKm float64, m model.Match)
	// InvalidateMemo：清除该坐标下所有已知半径档位的备忘
	// 已知缺陷：档位集合是固定枚举，任意半径的备忘无法被完全失效（见 memoBuckets）
	InvalidateMemo(ctx context.Context, c geo.Coordinate)

	// ClearAll：全量清空，仅供预热器使用
	ClearAll(ctx context.Context)
}

// TTLs：三类条目的过期时间
type TTLs struct {
	Cell  time.Duration
	Point time.Duration
	Memo  time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{Cell: 2 * time.Hour, Point: time.Hour, Memo: 30 * time.Minute}
}

// 备忘键的半径档位：任意半径归入不小于它的最小档位
// 背景：失效时需要枚举删除，档位必须是封闭集合；半径语义由查询侧复核
// （备忘命中后仍会检查距离是否超出本次请求的半径）。
var memoBuckets = []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000, 10000}

const bucketUnbounded = "any"

func bucketFor(radiusKm float64) string {
	if radiusKm <= 0 {
		return bucketUnbounded
	}
	for _, b := range memoBuckets {
		if radiusKm <= b {
			return strconv.FormatFloat(b, 'f', -1, 64)
		}
	}
	return strconv.FormatFloat(memoBuckets[len(memoBuckets)-1], 'f', -1, 64)
}

func allBuckets() []string {
	out := make([]string, 0, len(memoBuckets)+1)
	out = append(out, bucketUnbounded)
	for _, b := range memoBuckets {
		out = append(out, strconv.FormatFloat(b, 'f', -1, 64))
	}
	return out
}

// 坐标舍入到 3 位小数（约 100m 桶），提高近重复查询的命中率
func roundedCoord(c geo.Coordinate) string {
	return fmt.Sprintf("%.3f:%.3f", c.Lat, c.Lon)
}

func memoKey(c geo.Coordinate, bucket string) string {
	return "ports:memo:" + roundedCoord(c) + ":" + bucket
}

func pointKey(id string) string  { return "ports:pt:" + id }
func cellKey(cell string) string { return "ports:cell:" + cell }
