// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"port-api/internal/api"
	"port-api/internal/cache"
	"port-api/internal/config"
	"port-api/internal/events"
	"port-api/internal/geoip"
	"port-api/internal/grid"
	"port-api/internal/logger"
	"port-api/internal/metrics"
	"port-api/internal/middleware"
	"port-api/internal/migrate"
	"port-api/internal/resolver"
	"port-api/internal/store"
	"port-api/internal/syncer"
	"port-api/internal/utils"
	"port-api/internal/version"
	"port-api/internal/warmer"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit)
	cfg := config.FromEnv()
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	l.Info("db_open_ok")
	if err := db.Ping(); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db, cfg.StoreTimeout)

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	g := grid.New(cfg.Resolution, cfg.HardRingCap, cfg.RingConvCap)
	l.Info("grid_init_ok", "resolution", cfg.Resolution, "hard_ring_cap", cfg.HardRingCap)

	ttls := cache.TTLs{Cell: cfg.CellTTL, Point: cfg.PointTTL, Memo: cfg.MemoTTL}
	var spatial cache.Spatial
	if rc != nil {
		spatial = cache.NewRedis(rc, ttls, l)
		l.Info("cache_backend", "kind", "redis")
	} else {
		spatial = cache.NewMemory(ttls)
		l.Info("cache_backend", "kind", "memory")
	}

	pub := events.NewPublisher(rc, cfg.QueriesChannel, cfg.EventsChannel, l)
	res := resolver.New(g, spatial, st, pub, cfg.GridOnly, l)

	// 变更事件同步：订阅变更频道并回放到缓存；redis 未开启时跳过
	if rc != nil {
		sc := syncer.New(spatial, g, l)
		go sc.Run(context.Background(), rc, cfg.EventsChannel)
		l.Info("syncer_started", "channel", cfg.EventsChannel)
	}

	wm := warmer.New(spatial, g, st, l)
	if cfg.WarmOnStart {
		wm.RunAtStartup(context.Background(), cfg.WarmDelay)
		l.Info("warm_scheduled", "delay", cfg.WarmDelay.String())
	}

	// 背景：读取已下载的 mmdb 构建 IP 近似定位；失败不影响坐标查询主路径
	var loc *geoip.Locator
	mmdbPath := os.Getenv("GEOIP_MMDB_PATH")
	if mmdbPath == "" {
		mmdbPath = filepath.Join("data", "geoip", "GeoLite2-City.mmdb")
	}
	if _, err := os.Stat(mmdbPath); err == nil {
		if loc, err = geoip.Open(mmdbPath); err != nil {
			l.Error("geoip_open_error", "err", err)
			loc = nil
		} else {
			defer loc.Close()
			l.Info("geoip_ready", "path", mmdbPath)
		}
	} else {
		l.Info("geoip_disabled", "path", mmdbPath)
	}

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(res, wm, loc, l)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	tlsEnable := os.Getenv("TLS_ENABLE")
	if tlsEnable == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		_ = utils.EnsureSelfSignedCert(certPath, keyPath, "port-api.local")
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		_ = s.ListenAndServeTLS(certPath, keyPath)
		return
	}
	l.Info("listening", "addr", addr)
	_ = s.ListenAndServe()
}
