package api

// 对外返回结构：仅包含客户端需要的字段，内部模型不直接出网

type portPayload struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Code    string  `json:"code"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Cell    string  `json:"cell"`
}

type nearestResponse struct {
	Found        bool         `json:"found"`
	Port         *portPayload `json:"port,omitempty"`
	DistanceKm   float64      `json:"distance_km,omitempty"`
	GridDistance int          `json:"grid_distance,omitempty"`
	Source       string       `json:"source,omitempty"`
}

type withinResponse struct {
	Count   int            `json:"count"`
	Matches []matchPayload `json:"matches"`
}

type matchPayload struct {
	Port         portPayload `json:"port"`
	DistanceKm   float64     `json:"distance_km"`
	GridDistance int         `json:"grid_distance"`
}

type gridInfoResponse struct {
	Cell       string   `json:"cell"`
	Resolution int      `json:"resolution"`
	Neighbors  []string `json:"neighbors"`
}

type warmResponse struct {
	Points int `json:"points"`
	Cells  int `json:"cells"`
}

type errorResponse struct {
	Error string `json:"error"`
}
