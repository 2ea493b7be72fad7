// 包 store：权威港口库的数据访问层（PostgreSQL）
// 背景：数据库持有港口的规范记录；缓存只是反规范化副本。查询路径对库的三种依赖：
// 陈旧性复核（GetByID）、兜底检索（FindNearby）、全量预热（FetchAllActive）。
// 约束：所有调用必须带有限超时；"不可达"与"不存在"是两类错误，调用方据此决定
// 是否信任缓存，绝不能混为一谈。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"port-api/internal/geo"
	"port-api/internal/logger"
	"port-api/internal/metrics"
	"port-api/internal/model"
)

type Store struct {
	db      *sql.DB
	timeout time.Duration
}

func AttachDB(db *sql.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(err error) error {
	metrics.StoreUnavailableTotal.Inc()
	return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
}

const portColumns = "id, name, code, country, lat, lon, cell, active"

func scanPort(row interface{ Scan(...any) error }) (model.Port, error) {
	var p model.Port
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Country, &p.Coordinate.Lat, &p.Coordinate.Lon, &p.Cell, &p.Active)
	return p, err
}

// GetByID：按 id 取有效港口
// 约束：已停用视同不存在（陈旧性复核要求两者同义）
func (s *Store) GetByID(ctx context.Context, id string) (model.Port, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, "SELECT "+portColumns+" FROM _ports WHERE id=$1 AND active=TRUE", id)
	p, err := scanPort(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Port{}, model.ErrNotFound
	}
	if err != nil {
		return model.Port{}, unavailable(err)
	}
	return p, nil
}

// FindNearby：半径内的有效港口，按球面距离升序
// 背景：先用经纬度包围盒走索引粗筛，再在进程内按 Haversine 精筛与排序；
// 无 PostGIS 依赖，精度满足兜底检索场景。
func (s *Store) FindNearby(ctx context.Context, c geo.Coordinate, radiusKm float64) ([]model.Port, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	minLat, maxLat, minLon, maxLon := boundingBox(c, radiusKm)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+portColumns+" FROM _ports WHERE active=TRUE AND lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4",
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	var out []model.Port
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		if geo.DistanceKm(c, p.Coordinate) <= radiusKm {
			out = append(out, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	sort.Slice(out, func(i, j int) bool {
		return geo.DistanceKm(c, out[i].Coordinate) < geo.DistanceKm(c, out[j].Coordinate)
	})
	logger.L().Debug("store_find_nearby", "lat", c.Lat, "lon", c.Lon, "radius_km", radiusKm, "hits", len(out))
	return out, nil
}

// FetchAllActive：全量有效港口（预热器使用）
func (s *Store) FetchAllActive(ctx context.Context) ([]model.Port, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, "SELECT "+portColumns+" FROM _ports WHERE active=TRUE")
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	var out []model.Port
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Upsert：写入/更新港口记录（导入工具使用）
// 约束：坐标与单元格必须由调用方一并计算后传入，保持两者原子一致
func (s *Store) Upsert(ctx context.Context, p model.Port) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO _ports(id, name, code, country, lat, lon, cell, active)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, code=EXCLUDED.code, country=EXCLUDED.country,
            lat=EXCLUDED.lat, lon=EXCLUDED.lon, cell=EXCLUDED.cell, active=EXCLUDED.active, updated_at=now()`,
		p.ID, p.Name, p.Code, p.Country, p.Coordinate.Lat, p.Coordinate.Lon, p.Cell, p.Active)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// boundingBox：半径对应的经纬度包围盒
// 约束：纬度按 111.045km/度换算；经度随纬度收缩，接近极点时放开到全经度范围
func boundingBox(c geo.Coordinate, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	const kmPerDegLat = 111.045
	dLat := radiusKm / kmPerDegLat
	minLat = math.Max(c.Lat-dLat, -90)
	maxLat = math.Min(c.Lat+dLat, 90)
	cosLat := math.Cos(c.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		return minLat, maxLat, -180, 180
	}
	dLon := radiusKm / (kmPerDegLat * cosLat)
	if dLon >= 180 {
		return minLat, maxLat, -180, 180
	}
	minLon = math.Max(c.Lon-dLon, -180)
	maxLon = math.Min(c.Lon+dLon, 180)
	return minLat, maxLat, minLon, maxLon
}
