// 包 config：集中读取网格与缓存相关的运行参数
// 背景：检索参数（分辨率、环数上限、TTL、兜底开关等）在多个组件间共享，
// 分散读取环境变量容易出现默认值不一致；此处一次性解析成结构体再注入。
package config

import (
	"os"
	"strconv"
	"time"
)

// 默认值与硬上限
// 约束：HardRingCap 与 RingConvCap 在参考行为中同为 10，但语义不同：
// 前者限制候选点的环距资格，后者限制公里数换算出的扫描环数；两者独立配置。
const (
	DefaultResolution  = 7
	DefaultHardRingCap = 10
	DefaultRingConvCap = 10
)

type Config struct {
	Resolution  int
	HardRingCap int
	RingConvCap int
	GridOnly    bool

	MemoTTL  time.Duration
	CellTTL  time.Duration
	PointTTL time.Duration

	StoreTimeout time.Duration

	WarmOnStart bool
	WarmDelay   time.Duration

	EventsChannel  string
	QueriesChannel string
}

// FromEnv：从环境变量构建配置
// 约束：非法数值一律回退默认值，不报错；布尔开关仅认 "true"/"false" 字面量
func FromEnv() Config {
	c := Config{
		Resolution:     envInt("GRID_RESOLUTION", DefaultResolution),
		HardRingCap:    envInt("GRID_HARD_RING_CAP", DefaultHardRingCap),
		RingConvCap:    envInt("GRID_RING_CONV_CAP", DefaultRingConvCap),
		GridOnly:       os.Getenv("GRID_ONLY_MODE") == "true",
		MemoTTL:        envSeconds("MEMO_TTL_S", 30*time.Minute),
		CellTTL:        envSeconds("CELL_TTL_S", 2*time.Hour),
		PointTTL:       envSeconds("POINT_TTL_S", time.Hour),
		StoreTimeout:   envSeconds("STORE_TIMEOUT_S", 15*time.Second),
		WarmOnStart:    os.Getenv("WARM_ON_START") != "false",
		WarmDelay:      envSeconds("WARM_DELAY_S", 5*time.Second),
		EventsChannel:  envStr("PORT_EVENTS_CHANNEL", "ports.events"),
		QueriesChannel: envStr("QUERY_EVENTS_CHANNEL", "ports.queries"),
	}
	if c.Resolution < 0 || c.Resolution > 15 {
		c.Resolution = DefaultResolution
	}
	return c
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
