// 数据导入工具：从 CSV 批量写入 PostgreSQL 并广播变更事件
// 行格式：id,name,code,country,lat,lon；首行若是表头自动跳过
package main

import (
	"context"
	"encoding/csv"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"port-api/internal/config"
	"port-api/internal/events"
	"port-api/internal/geo"
	"port-api/internal/grid"
	"port-api/internal/logger"
	"port-api/internal/migrate"
	"port-api/internal/model"
	"port-api/internal/store"
	"port-api/internal/utils"
)

func main() {
	path := os.Getenv("PORTS_CSV")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		log.Fatal("usage: port-ingest <ports.csv> (or PORTS_CSV env)")
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	cfg := config.FromEnv()
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db); err != nil {
		log.Fatal(err)
	}
	st := store.AttachDB(db, cfg.StoreTimeout)
	g := grid.New(cfg.Resolution, cfg.HardRingCap, cfg.RingConvCap)

	// redis 可选：开启时向同步频道广播新增事件，在线实例无需重启即可看到新港口
	rc := utils.OpenRedisFromEnv()
	pub := events.NewPublisher(rc, cfg.QueriesChannel, cfg.EventsChannel, logger.L())

	ctx := context.Background()
	rd := csv.NewReader(f)
	rd.FieldsPerRecord = 6
	count, skipped := 0, 0
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		if strings.EqualFold(strings.TrimSpace(rec[0]), "id") {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(rec[4]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		c := geo.Coordinate{Lat: lat, Lon: lon}
		if err := c.Validate(); err != nil {
			skipped++
			continue
		}
		cell, err := g.ToCell(c)
		if err != nil {
			skipped++
			continue
		}
		p := model.Port{
			ID:         strings.TrimSpace(rec[0]),
			Name:       strings.TrimSpace(rec[1]),
			Code:       strings.TrimSpace(rec[2]),
			Country:    strings.TrimSpace(rec[3]),
			Coordinate: c,
			Cell:       cell,
			Active:     true,
		}
		if p.ID == "" {
			skipped++
			continue
		}
		if err := st.Upsert(ctx, p); err != nil {
			log.Fatal(err)
		}
		if rc != nil {
			_ = pub.PortChanged(ctx, model.ChangeEvent{Type: model.EventCreated, PortID: p.ID, Port: &p})
		}
		count++
	}
	log.Printf("ingest done: %d imported, %d skipped", count, skipped)
}
