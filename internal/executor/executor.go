package executor

import (
	"context"

	"dex-grid-bot-go/internal/models"
)

// SwapRequest 描述一次待执行的兑换
type SwapRequest struct {
	PairID       string
	Side         models.Side
	TokenIn      string  // 输入资产名
	TokenOut     string  // 输出资产名
	AmountIn     float64
	MinAmountOut float64
	PoolFee      float64 // 池子费率百分比, 如 0.3
	Recipient    string
	RefPrice     float64 // 提交时的参考价，供模拟执行使用
}

// Executor 是交易执行协作方。
// 核心不负责交易编码、签名和广播，只消费执行结果。
type Executor interface {
	ExecuteSwap(ctx context.Context, req SwapRequest) (models.SwapResult, error)
}

// BalanceProvider 是余额与授权协作方
type BalanceProvider interface {
	GetBalance(ctx context.Context, asset string) (float64, error)
	EnsureAllowance(ctx context.Context, asset, spender string, amount float64) error
}
