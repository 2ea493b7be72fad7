// 包 grid：六边形网格索引（H3 封装）
// 背景：用固定分辨率的 H3 单元格做空间分桶，把"最近点"检索约束在有限的环扫描内；
// 单元格一律以 H3 字符串形态对外，便于作缓存键与事件负载。
// 约束：本包不校验坐标范围，调用方需先行校验。
package grid

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"

	"port-api/internal/geo"
)

// 各分辨率的平均六边形边长（公里），来源为 H3 官方表
// 背景：RequiredRings 需要把公里半径换算为环数；H3 单元格面积随纬度略有起伏，
// 平均边长足够用于扫描范围估算。
var avgEdgeKm = [16]float64{
	1107.712591, 418.6760055, 158.2446558, 59.81085794,
	22.6063794, 8.544408276, 3.229482772, 1.220629759,
	0.461354684, 0.174375668, 0.065907807, 0.024910561,
	0.009415526, 0.003559893, 0.001348575, 0.000509713,
}

// H3Grid：固定分辨率的网格索引
// 约束：hardRingCap 限制候选点环距资格；ringConvCap 限制公里换算出的扫描环数。
// 参考行为中两者同为 10，但独立配置以免耦合。
type H3Grid struct {
	res         int
	hardRingCap int
	ringConvCap int
}

func New(resolution, hardRingCap, ringConvCap int) *H3Grid {
	if resolution < 0 || resolution > 15 {
		resolution = 7
	}
	if hardRingCap <= 0 {
		hardRingCap = 10
	}
	if ringConvCap <= 0 {
		ringConvCap = 10
	}
	return &H3Grid{res: resolution, hardRingCap: hardRingCap, ringConvCap: ringConvCap}
}

func (g *H3Grid) Resolution() int  { return g.res }
func (g *H3Grid) HardRingCap() int { return g.hardRingCap }

// ToCell：坐标映射到单元格标识（确定性）
func (g *H3Grid) ToCell(c geo.Coordinate) (string, error) {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat, Lng: c.Lon}, g.res)
	if err != nil {
		return "", fmt.Errorf("to cell: %w", err)
	}
	return cell.String(), nil
}

// CellToCoordinate：单元格中心点坐标，仅用于诊断输出
func (g *H3Grid) CellToCoordinate(cell string) (geo.Coordinate, error) {
	c, err := parseCell(cell)
	if err != nil {
		return geo.Coordinate{}, err
	}
	ll, err := h3.CellToLatLng(c)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("cell center: %w", err)
	}
	return geo.Coordinate{Lat: ll.Lat, Lon: ll.Lng}, nil
}

// RingDistance：两单元格间的网格步数，0 当且仅当相等
func (g *H3Grid) RingDistance(a, b string) (int, error) {
	ca, err := parseCell(a)
	if err != nil {
		return 0, err
	}
	cb, err := parseCell(b)
	if err != nil {
		return 0, err
	}
	d, err := h3.GridDistance(ca, cb)
	if err != nil {
		return 0, fmt.Errorf("grid distance: %w", err)
	}
	return d, nil
}

// CellsInRing：中心单元格周围环距 <= k 的全部单元格（实心盘，含中心）
// 约束：k=0 时必须只含中心单元格
func (g *H3Grid) CellsInRing(center string, k int) ([]string, error) {
	c, err := parseCell(center)
	if err != nil {
		return nil, err
	}
	if k < 0 {
		k = 0
	}
	cells, err := h3.GridDisk(c, k)
	if err != nil {
		return nil, fmt.Errorf("grid disk: %w", err)
	}
	out := make([]string, 0, len(cells))
	for _, cc := range cells {
		out = append(out, cc.String())
	}
	return out, nil
}

// Neighbors：紧邻单元格（环距恰为 1），用于 grid-info 诊断
func (g *H3Grid) Neighbors(cell string) ([]string, error) {
	disk, err := g.CellsInRing(cell, 1)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(disk))
	for _, cc := range disk {
		if cc != cell {
			out = append(out, cc)
		}
	}
	return out, nil
}

// RequiredRings：公里半径换算为环数，向上取整并受 ringConvCap 封顶
// 背景：封顶是成本策略而非几何定律，可经配置调整
func (g *H3Grid) RequiredRings(radiusKm float64) int {
	if radiusKm <= 0 {
		return 0
	}
	rings := int(math.Ceil(radiusKm / avgEdgeKm[g.res]))
	if rings > g.ringConvCap {
		return g.ringConvCap
	}
	return rings
}

func parseCell(s string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse cell %q: %w", s, err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid cell %q", s)
	}
	return c, nil
}
