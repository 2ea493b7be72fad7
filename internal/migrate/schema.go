package migrate

import (
	"database/sql"

	"port-api/internal/logger"
)

// 背景：首次运行自动创建港口表与索引，保障导入与查询可用
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _ports (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            code TEXT NOT NULL,
            country TEXT NOT NULL,
            lat DOUBLE PRECISION NOT NULL,
            lon DOUBLE PRECISION NOT NULL,
            cell TEXT NOT NULL,
            active BOOLEAN NOT NULL DEFAULT TRUE,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_port_code ON _ports(code)`,
		`CREATE INDEX IF NOT EXISTS idx_ports_cell ON _ports(cell)`,
		`CREATE INDEX IF NOT EXISTS idx_ports_lat_lon ON _ports(lat, lon)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_ensured")
	return nil
}
