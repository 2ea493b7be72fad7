// 包 geo：坐标值类型与球面距离计算
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm 球面近似地球半径（公里）
const EarthRadiusKm = 6371.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate：WGS84 经纬度值类型
// 约束：不可变使用；相等性为两字段的精确数值相等
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate：校验纬度/经度范围与数值有效性
// 背景：校验发生在入口层；核心组件假定输入已通过本检查
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return fmt.Errorf("%w: lat/lon must be finite", ErrInvalidCoordinate)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidCoordinate)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidCoordinate)
	}
	return nil
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }

// DistanceKm：Haversine 球面距离（公里）
// 约束：对称；严格相等的两点返回 0
func DistanceKm(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	lat1 := degToRad(a.Lat)
	lat2 := degToRad(b.Lat)
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}
