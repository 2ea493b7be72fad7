package geoip

// 文档注释：GeoIP 定位器
// 背景：当 /api/nearest 请求未携带经纬度时，用客户端 IP 在本地 mmdb 中
// 查出一个近似坐标作为查询起点。数据库缺失或查询失败都不是致命错误，
// 调用方拿到 ok=false 后应回退为参数校验失败。
// 约束：mmdb 文件由部署方预先下载（GeoLite2-City 格式），进程内只读。

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"port-api/internal/geo"
)

// Locator 包装只读的 mmdb 查询句柄。零值不可用，必须经 Open 构造。
type Locator struct {
	reader *geoip2.Reader
}

// Open 打开 GeoLite2-City 格式的 mmdb 文件。
func Open(path string) (*Locator, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Locator{reader: r}, nil
}

// Locate 将客户端 IP 解析为近似坐标。
// 私有地址、未收录地址、或库中坐标为零值时返回 ok=false。
func (l *Locator) Locate(ipStr string) (geo.Coordinate, bool) {
	if l == nil || l.reader == nil {
		return geo.Coordinate{}, false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return geo.Coordinate{}, false
	}
	rec, err := l.reader.City(ip)
	if err != nil {
		return geo.Coordinate{}, false
	}
	c := geo.Coordinate{Lat: rec.Location.Latitude, Lon: rec.Location.Longitude}
	// mmdb 未收录的地址经纬度为零值；(0,0) 在几内亚湾，不当作有效定位
	if c.Lat == 0 && c.Lon == 0 {
		return geo.Coordinate{}, false
	}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, false
	}
	return c, true
}

// Close 释放 mmdb 句柄。
func (l *Locator) Close() error {
	if l == nil || l.reader == nil {
		return nil
	}
	return l.reader.Close()
}
