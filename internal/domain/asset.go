package domain

// AssetInfo 盘前计算的单个标的参考数据，扫描期间只读
type AssetInfo struct {
	Symbol        string  `json:"symbol"`
	PrevClose     float64 `json:"prev_close"`     // 前收盘价（>0）
	AvgVolume     float64 `json:"avg_volume"`     // 日均成交量
	Volatility    float64 `json:"volatility"`     // 日收益率标准差
	HasVolatility bool    `json:"has_volatility"` // Volatility 是否可用
}

// WatchItem 观察列表条目。HODProximity = 1 - price/highOfDay，越小越接近日内高点。
type WatchItem struct {
	Symbol       string  `json:"symbol"`
	HODProximity float64 `json:"hod_proximity"`
	HighOfDay    float64 `json:"high_of_day"`
	LastPrice    float64 `json:"last_price"`
}
