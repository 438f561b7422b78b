package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// SimExecutor 是模拟执行器，用于 dry-run 模式。
// 它按参考价成交并叠加滑点与池子费率，产生与真实执行相同形状的回执。
type SimExecutor struct {
	slippageRate float64 // 模拟成交时施加的滑点比例
	gasUsed      uint64
	blockNumber  atomic.Uint64
	balances     map[string]float64 // 模拟账户余额
	logger       *zap.SugaredLogger
}

// NewSimExecutor 创建模拟执行器
func NewSimExecutor(slippageRate float64, initialBalances map[string]float64) *SimExecutor {
	balances := make(map[string]float64, len(initialBalances))
	for k, v := range initialBalances {
		balances[k] = v
	}
	s := &SimExecutor{
		slippageRate: slippageRate,
		gasUsed:      150000,
		balances:     balances,
		logger:       logger.Named("sim"),
	}
	s.blockNumber.Store(1_000_000)
	return s
}

// ExecuteSwap 模拟一次兑换。
// 买入时滑点使成交价上移，卖出时使成交价下移。
func (s *SimExecutor) ExecuteSwap(_ context.Context, req SwapRequest) (models.SwapResult, error) {
	if req.RefPrice <= 0 {
		return models.SwapResult{Status: "FAILED"}, fmt.Errorf("模拟执行缺少参考价")
	}
	if req.AmountIn <= 0 {
		return models.SwapResult{Status: "FAILED"}, fmt.Errorf("无效的输入数量 %.8f", req.AmountIn)
	}

	execPrice := req.RefPrice
	if req.Side == models.Buy {
		execPrice *= 1 + s.slippageRate
	} else {
		execPrice *= 1 - s.slippageRate
	}

	feeRate := req.PoolFee / 100
	var amountOut float64
	if req.Side == models.Buy {
		// 输入计价资产，输出基础资产
		amountOut = req.AmountIn / execPrice * (1 - feeRate)
	} else {
		// 输入基础资产，输出计价资产
		amountOut = req.AmountIn * execPrice * (1 - feeRate)
	}

	// 滑点保护: 输出低于下限时按真实池子的行为回滚
	if req.MinAmountOut > 0 && amountOut < req.MinAmountOut {
		return models.SwapResult{Status: "FAILED"},
			fmt.Errorf("模拟执行触发滑点保护: 输出 %.8f 低于下限 %.8f", amountOut, req.MinAmountOut)
	}

	block := s.blockNumber.Add(1)
	txRef := "sim-" + string(base62.FormatInt(time.Now().UnixNano()))

	s.logger.Debugf("[%s] 模拟成交 %s: 价格 %.6f, 输入 %.8f, 输出 %.8f",
		req.PairID, req.Side, execPrice, req.AmountIn, amountOut)

	return models.SwapResult{
		TxRef:       txRef,
		BlockNumber: block,
		GasUsed:     s.gasUsed,
		AmountOut:   amountOut,
		ExecPrice:   execPrice,
		Status:      "SUCCESS",
	}, nil
}

// GetBalance 返回模拟账户中的资产余额
func (s *SimExecutor) GetBalance(_ context.Context, asset string) (float64, error) {
	return s.balances[asset], nil
}

// EnsureAllowance 模拟模式下授权总是成立
func (s *SimExecutor) EnsureAllowance(_ context.Context, asset, spender string, amount float64) error {
	return nil
}
