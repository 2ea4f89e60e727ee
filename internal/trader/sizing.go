package trader

import (
	"fmt"
	"math"

	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/pkg/config"
)

const minVolatility = 1e-6

// SizeInput 仓位计算输入
type SizeInput struct {
	Price    float64
	Equity   float64
	EquityOK bool // 权益是否可用
	Asset    domain.AssetInfo
	AssetOK  bool
}

// PositionSize 计算买入股数：
// 每笔金额 = 权益 × SIZE_EQUITY_PCT（已配置且权益可用），否则为固定 POSITION_SIZE；
// 启用波动率调整且波动率已知时按 VOLATILITY_TARGET / max(波动率, 1e-6) 缩放；
// 股数 = floor(金额 / 价格)，至少 1 股。
func PositionSize(cfg config.SizingConfig, in SizeInput) (int64, error) {
	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return 0, fmt.Errorf("价格无效: %v", in.Price)
	}

	dollars := cfg.PositionSize
	if cfg.SizeEquityPct > 0 && in.EquityOK && in.Equity > 0 {
		dollars = in.Equity * cfg.SizeEquityPct
	}
	if cfg.UseVolatilityAdjust && in.AssetOK && in.Asset.HasVolatility && in.Asset.Volatility > 0 {
		dollars *= cfg.VolatilityTarget / math.Max(in.Asset.Volatility, minVolatility)
	}

	qty := int64(math.Floor(dollars / in.Price))
	if qty < 1 {
		qty = 1
	}
	return qty, nil
}
