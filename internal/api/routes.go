// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"port-api/internal/geo"
	"port-api/internal/geoip"
	"port-api/internal/model"
	"port-api/internal/resolver"
	"port-api/internal/warmer"
)

// 解析访问者 IP：优先参数，其次常见反向代理头；保证在多层代理场景下稳定获取源 IP
func getClientIP(r *http.Request) string {
	q := r.URL.Query().Get("ip")
	if q != "" {
		return q
	}
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	if x := h.Get("cf-connecting-ip"); x != "" {
		return x
	}
	if x := h.Get("x-real-ip"); x != "" {
		return x
	}
	if x := h.Get("x-client-ip"); x != "" {
		return x
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// 错误到状态码的映射：参数错误 400，未命中 404（携带 found:false），权威库不可达 502
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, geo.ErrInvalidCoordinate):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, nearestResponse{Found: false})
	case errors.Is(err, model.ErrStoreUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "store unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func toPayload(p model.Port) portPayload {
	return portPayload{
		ID:      p.ID,
		Name:    p.Name,
		Code:    p.Code,
		Country: p.Country,
		Lat:     p.Coordinate.Lat,
		Lon:     p.Coordinate.Lon,
		Cell:    p.Cell,
	}
}

// 解析 lat/lon 查询参数；两者都缺失时返回 ok=false 让调用方尝试 IP 定位
func parseCoord(r *http.Request) (geo.Coordinate, bool, error) {
	latS := r.URL.Query().Get("lat")
	lonS := r.URL.Query().Get("lon")
	if latS == "" && lonS == "" {
		return geo.Coordinate{}, false, nil
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return geo.Coordinate{}, false, model.ErrInvalidInput
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		return geo.Coordinate{}, false, model.ErrInvalidInput
	}
	return geo.Coordinate{Lat: lat, Lon: lon}, true, nil
}

// 解析可选 radius_km；缺省 0 表示不限距离
func parseRadius(r *http.Request) (float64, error) {
	s := r.URL.Query().Get("radius_km")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, model.ErrInvalidInput
	}
	return v, nil
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
// loc 可为 nil（未配置 mmdb 时仅支持显式坐标查询）。
func BuildRoutes(res *resolver.Resolver, wm *warmer.Warmer, loc *geoip.Locator, log *slog.Logger) *http.ServeMux {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("/nearest", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q, ok, err := parseCoord(r)
		if err != nil {
			writeError(w, err)
			return
		}
		source := "query"
		if !ok {
			// 未携带坐标时回退到客户端 IP 近似定位
			ip := getClientIP(r)
			c, located := loc.Locate(ip)
			if !located {
				writeError(w, model.ErrInvalidInput)
				return
			}
			q = c
			source = "geoip"
			log.Debug("nearest_geoip_fallback", "ip", ip, "lat", q.Lat, "lon", q.Lon)
		}
		radius, err := parseRadius(r)
		if err != nil {
			writeError(w, err)
			return
		}
		m, err := res.FindNearest(ctx, q, radius)
		if err != nil {
			writeError(w, err)
			return
		}
		p := toPayload(m.Port)
		writeJSON(w, http.StatusOK, nearestResponse{
			Found:        true,
			Port:         &p,
			DistanceKm:   m.DistanceKm,
			GridDistance: m.GridDistance,
			Source:       source,
		})
	})

	apiMux.HandleFunc("/within", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q, ok, err := parseCoord(r)
		if err != nil || !ok {
			writeError(w, model.ErrInvalidInput)
			return
		}
		radius, err := parseRadius(r)
		if err != nil || radius <= 0 {
			writeError(w, model.ErrInvalidInput)
			return
		}
		matches, err := res.FindAllWithinRadius(ctx, q, radius)
		if err != nil {
			writeError(w, err)
			return
		}
		out := withinResponse{Count: len(matches), Matches: make([]matchPayload, 0, len(matches))}
		for _, m := range matches {
			out.Matches = append(out.Matches, matchPayload{
				Port:         toPayload(m.Port),
				DistanceKm:   m.DistanceKm,
				GridDistance: m.GridDistance,
			})
		}
		writeJSON(w, http.StatusOK, out)
	})

	apiMux.HandleFunc("/grid-info", func(w http.ResponseWriter, r *http.Request) {
		q, ok, err := parseCoord(r)
		if err != nil || !ok {
			writeError(w, model.ErrInvalidInput)
			return
		}
		info, err := res.GridInfo(q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, gridInfoResponse{
			Cell:       info.Cell,
			Resolution: info.Resolution,
			Neighbors:  info.Neighbors,
		})
	})

	// 管理入口：全量重建缓存。需要 x-admin-token 头与 ADMIN_TOKEN 环境变量一致。
	apiMux.HandleFunc("/warm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		token := os.Getenv("ADMIN_TOKEN")
		if token == "" || r.Header.Get("x-admin-token") != token {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		points, cells, err := wm.Warm(r.Context())
		if err != nil {
			log.Error("warm_api_error", "err", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "warm failed"})
			return
		}
		writeJSON(w, http.StatusOK, warmResponse{Points: points, Cells: cells})
	})

	apiMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return apiMux
}
