package domain

import "time"

// Trade 实时成交（逐笔）
type Trade struct {
	Symbol    string
	Price     float64
	Size      int64
	Timestamp time.Time
}

// Signal 交易信号：观察列表榜首变化时产生
type Signal struct {
	Symbol         string
	ReferencePrice float64 // 信号产生时该标的的日内高点
	At             time.Time
}
