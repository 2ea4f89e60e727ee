package refdata

import (
	"math"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
)

// ComputeAssetInfo 由日线计算参考数据：
// 平均成交量 = 成交量均值，前收 = 最后一根收盘价，波动率 = 日收益率样本标准差（收益率少于 2 个时为 0）。
// 没有日线或前收不为正时返回 false。
func ComputeAssetInfo(symbol string, bars []broker.Bar) (domain.AssetInfo, bool) {
	if len(bars) == 0 {
		return domain.AssetInfo{}, false
	}
	prevClose := bars[len(bars)-1].Close
	if prevClose <= 0 {
		return domain.AssetInfo{}, false
	}

	var volSum float64
	for _, b := range bars {
		volSum += b.Volume
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close <= 0 {
			continue
		}
		returns = append(returns, bars[i].Close/bars[i-1].Close-1)
	}

	info := domain.AssetInfo{
		Symbol:    symbol,
		PrevClose: prevClose,
		AvgVolume: volSum / float64(len(bars)),
	}
	if len(returns) > 1 {
		info.Volatility = sampleStdev(returns)
		info.HasVolatility = true
	}
	return info, true
}

func sampleStdev(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
