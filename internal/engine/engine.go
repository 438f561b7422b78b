package engine

import (
	"context"
	"fmt"
	"time"

	"dex-grid-bot-go/internal/executor"
	"dex-grid-bot-go/internal/grid"
	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Config 是周期引擎的运行参数
type Config struct {
	MinProfitUSD      float64       // 净利润绝对下限
	MinProfitPercent  float64       // 净利润占仓位的百分比下限
	SlippageTolerance float64       // 触发后重算输出下限使用的滑点容忍度
	MaxLevelFailures  int           // 单档位连续失败熔断阈值
	ExecTimeout       time.Duration // 单次执行调用的超时
}

// pairBook 是单个交易对的档位簿和持仓记录。
// 引擎被限定在控制循环的单个goroutine内使用，因此不加锁。
type pairBook struct {
	levels    map[int64]*models.GridLevel // 待触发与已触发未成交的档位
	lastPrice float64                     // 上一次观察到的价格，用于严格穿越判定
	openExecs []models.TradeExecution     // 未配对的成交，先进先出
	cycles    []models.TradeCycle         // 已完成的周期，等待被取走落库
}

// Engine 实现网格的交易周期:
// 触发检测 -> 盈利校验 -> 提交执行 -> 成交确认 -> 周期配对。
// 档位在成交、盈利校验失败或熔断时从档位簿中移除。
type Engine struct {
	cfg    Config
	costs  *CostEstimator
	exec   executor.Executor
	books  map[string]*pairBook
	logger *zap.SugaredLogger
}

// NewEngine 创建周期引擎
func NewEngine(cfg Config, costs *CostEstimator, exec executor.Executor) *Engine {
	if cfg.MaxLevelFailures <= 0 {
		cfg.MaxLevelFailures = 3
	}
	return &Engine{
		cfg:    cfg,
		costs:  costs,
		exec:   exec,
		books:  make(map[string]*pairBook),
		logger: logger.Named("engine"),
	}
}

func (e *Engine) book(pairID string) *pairBook {
	b, ok := e.books[pairID]
	if !ok {
		b = &pairBook{levels: make(map[int64]*models.GridLevel)}
		e.books[pairID] = b
	}
	return b
}

// SetLevels 用新一轮规划结果替换交易对的档位簿。
// 已触发且价格仍在新区间内的档位被保留，避免重建时丢失在途机会。
func (e *Engine) SetLevels(pairID string, levels []models.GridLevel, rangeLow, rangeHigh float64) {
	b := e.book(pairID)

	next := make(map[int64]*models.GridLevel, len(levels))
	kept := 0
	for id, lvl := range b.levels {
		if lvl.IsActive && lvl.Price >= rangeLow && lvl.Price <= rangeHigh {
			next[id] = lvl
			kept++
		}
	}
	for i := range levels {
		lvl := levels[i]
		next[lvl.ID] = &lvl
	}
	b.levels = next

	e.logger.Infof("[%s] 档位簿已更新: 新档位 %d 个, 保留在途档位 %d 个", pairID, len(levels), kept)
}

// RestoreBook 从持久化状态恢复档位簿和未配对持仓
func (e *Engine) RestoreBook(pairID string, levels []models.GridLevel, openExecs []models.TradeExecution, lastPrice float64) {
	b := e.book(pairID)
	b.levels = make(map[int64]*models.GridLevel, len(levels))
	for i := range levels {
		lvl := levels[i]
		b.levels[lvl.ID] = &lvl
	}
	b.openExecs = append([]models.TradeExecution(nil), openExecs...)
	b.lastPrice = lastPrice
}

// DetectTriggers 用最新价格检测档位穿越。
// 只有价格从上一观察价严格穿过档位价才算触发，首个观察价只做基准不触发。
// 触发时根据穿越方向重新推导档位的买卖方向。
func (e *Engine) DetectTriggers(pairID string, price float64) []*models.GridLevel {
	b := e.book(pairID)
	prev := b.lastPrice
	b.lastPrice = price

	if prev <= 0 || price == prev {
		return nil
	}

	var triggered []*models.GridLevel
	for _, lvl := range b.levels {
		if lvl.Status != models.LevelPending {
			continue
		}
		crossedDown := prev > lvl.Price && price <= lvl.Price
		crossedUp := prev < lvl.Price && price >= lvl.Price
		if !crossedDown && !crossedUp {
			continue
		}

		side := grid.RederiveSide(lvl.Price, price)
		if side != lvl.Side {
			e.logger.Debugf("[%s] 档位 %d 方向重推导: %s -> %s (价格 %.6f)",
				pairID, lvl.ID, lvl.Side, side, price)
			lvl.Side = side
			e.applySwapAmounts(lvl)
		}

		lvl.Status = models.LevelTriggered
		lvl.IsActive = true
		triggered = append(triggered, lvl)

		e.logger.Infof("[%s] 档位触发: %s @ %.6f (价格 %.6f -> %.6f)",
			pairID, lvl.Side, lvl.Price, prev, price)
	}
	return triggered
}

// applySwapAmounts 在方向变化后重算执行输入与滑点保护输出
func (e *Engine) applySwapAmounts(lvl *models.GridLevel) {
	if lvl.Side == models.Buy {
		lvl.SwapAmountIn = lvl.PositionUSD
		lvl.MinAmountOut = lvl.Quantity * (1 - e.cfg.SlippageTolerance)
	} else {
		lvl.SwapAmountIn = lvl.Quantity
		lvl.MinAmountOut = lvl.PositionUSD * (1 - e.cfg.SlippageTolerance)
	}
}

// Validate 对触发的档位做盈利校验。
// 预期毛利按仓位乘以目标利润率估算，扣除池子费、gas和滑点估算后，
// 净利润必须同时满足绝对下限和占仓位比例的下限。
// 未通过的档位被标记为拒绝并移出档位簿，等待下一轮重建。
func (e *Engine) Validate(ctx context.Context, lvl *models.GridLevel, poolFeePercent float64) (models.TradeCosts, bool) {
	costs := e.costs.Estimate(ctx, lvl.PositionUSD, poolFeePercent)

	gross := lvl.PositionUSD * lvl.ProfitTarget
	net := gross - costs.Total()
	floorPct := lvl.PositionUSD * e.cfg.MinProfitPercent / 100

	if net < e.cfg.MinProfitUSD {
		e.logger.Warnf("[%s] 档位 %d 盈利校验未通过 (绝对下限): 净利润 %.4f < %.4f, 成本 %.4f",
			lvl.PairID, lvl.ID, net, e.cfg.MinProfitUSD, costs.Total())
		e.reject(lvl)
		return costs, false
	}
	if net < floorPct {
		e.logger.Warnf("[%s] 档位 %d 盈利校验未通过 (比例下限): 净利润 %.4f < %.4f (仓位 %.2f 的 %.2f%%)",
			lvl.PairID, lvl.ID, net, floorPct, lvl.PositionUSD, e.cfg.MinProfitPercent)
		e.reject(lvl)
		return costs, false
	}

	lvl.Status = models.LevelValidated
	return costs, true
}

// ReleaseLevels 把已触发但本周期未提交执行的档位放回待触发状态。
// 调度冷却、并发上限裁剪和停止请求都会产生这样的档位，
// 不放回的话它们会永远停在已触发状态，再也无法成交。
func (e *Engine) ReleaseLevels(levels []*models.GridLevel) {
	for _, lvl := range levels {
		if lvl.Status != models.LevelTriggered && lvl.Status != models.LevelValidated {
			continue
		}
		lvl.Status = models.LevelPending
		lvl.IsActive = false
		e.logger.Debugf("[%s] 档位 %d 放回待触发状态", lvl.PairID, lvl.ID)
	}
}

func (e *Engine) reject(lvl *models.GridLevel) {
	lvl.Status = models.LevelRejected
	lvl.IsActive = false
	delete(e.book(lvl.PairID).levels, lvl.ID)
}

// Commit 将通过校验的档位提交给执行协作方。
// 执行超时视为失败；成功时创建不可变的成交记录并尝试配对周期。
func (e *Engine) Commit(ctx context.Context, lvl *models.GridLevel, pair models.PairConfig, refPrice float64, costs models.TradeCosts, recipient string) (*models.TradeExecution, error) {
	lvl.Status = models.LevelCommitted

	tokenIn, tokenOut := pair.QuoteAsset, pair.BaseAsset
	if lvl.Side == models.Sell {
		tokenIn, tokenOut = pair.BaseAsset, pair.QuoteAsset
	}

	req := executor.SwapRequest{
		PairID:       lvl.PairID,
		Side:         lvl.Side,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     lvl.SwapAmountIn,
		MinAmountOut: lvl.MinAmountOut,
		PoolFee:      pair.PoolFeePercent,
		Recipient:    recipient,
		RefPrice:     refPrice,
	}

	execCtx := ctx
	if e.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecTimeout)
		defer cancel()
	}

	res, err := e.exec.ExecuteSwap(execCtx, req)
	if err != nil || res.Status != "SUCCESS" {
		if err == nil {
			err = fmt.Errorf("执行返回状态 %s", res.Status)
		}
		e.recordFailure(lvl, err)
		return nil, err
	}

	exec := e.recordFill(lvl, res, costs)
	return exec, nil
}

// recordFailure 累计档位失败次数，超过阈值后永久熔断该档位
func (e *Engine) recordFailure(lvl *models.GridLevel, cause error) {
	lvl.FailureCount++
	lvl.IsActive = false

	if lvl.FailureCount >= e.cfg.MaxLevelFailures {
		lvl.Status = models.LevelDisabled
		delete(e.book(lvl.PairID).levels, lvl.ID)
		e.logger.Errorf("[%s] 档位 %d 连续失败 %d 次，已熔断: %v",
			lvl.PairID, lvl.ID, lvl.FailureCount, cause)
		return
	}

	// 未达阈值的档位回到待触发状态，下次穿越时重试
	lvl.Status = models.LevelPending
	e.logger.Warnf("[%s] 档位 %d 执行失败 (%d/%d): %v",
		lvl.PairID, lvl.ID, lvl.FailureCount, e.cfg.MaxLevelFailures, cause)
}

// recordFill 在成交确认后创建不可变的成交记录，销毁档位并尝试配对周期
func (e *Engine) recordFill(lvl *models.GridLevel, res models.SwapResult, costs models.TradeCosts) *models.TradeExecution {
	// 买入时输出的是基础资产数量，卖出时输入的才是
	qty := lvl.Quantity
	if lvl.Side == models.Buy && res.AmountOut > 0 {
		qty = res.AmountOut
	}

	exec := models.TradeExecution{
		ID:          uuid.New().String(),
		LevelID:     lvl.ID,
		PairID:      lvl.PairID,
		Side:        lvl.Side,
		ExecPrice:   res.ExecPrice,
		Quantity:    qty,
		USDValue:    qty * res.ExecPrice,
		Costs:       costs,
		TxRef:       res.TxRef,
		BlockNumber: res.BlockNumber,
		GasUsed:     res.GasUsed,
		Timestamp:   time.Now(),
	}

	lvl.Status = models.LevelFilled
	lvl.IsActive = false
	b := e.book(lvl.PairID)
	delete(b.levels, lvl.ID)

	e.logger.Infof("[%s] 成交确认: %s %.8f @ %.6f, tx=%s",
		exec.PairID, exec.Side, exec.Quantity, exec.ExecPrice, exec.TxRef)

	e.matchCycle(b, exec)
	return &exec
}

// matchCycle 按先进先出将成交与最早的反向未配对成交配成一个周期。
// 毛利按两边较小的数量结算，每个成交最多参与一次配对。
func (e *Engine) matchCycle(b *pairBook, exec models.TradeExecution) {
	for i, open := range b.openExecs {
		if open.Side == exec.Side {
			continue
		}

		b.openExecs = append(b.openExecs[:i], b.openExecs[i+1:]...)

		qty := open.Quantity
		if exec.Quantity < qty {
			qty = exec.Quantity
		}

		var gross float64
		if open.Side == models.Buy {
			gross = qty * (exec.ExecPrice - open.ExecPrice)
		} else {
			gross = qty * (open.ExecPrice - exec.ExecPrice)
		}
		totalCosts := open.Costs.Total() + exec.Costs.Total()
		closeExec := exec

		cycle := models.TradeCycle{
			ID:          string(base62.FormatInt(time.Now().UnixNano())),
			PairID:      exec.PairID,
			OpenExec:    open,
			CloseExec:   &closeExec,
			GrossProfit: gross,
			TotalCosts:  totalCosts,
			NetProfit:   gross - totalCosts,
			IsComplete:  true,
			OpenedAt:    open.Timestamp,
			ClosedAt:    exec.Timestamp,
		}
		b.cycles = append(b.cycles, cycle)

		e.logger.Infof("[%s] 周期完成: 毛利 %.4f, 成本 %.4f, 净利 %.4f",
			exec.PairID, gross, totalCosts, cycle.NetProfit)
		return
	}

	// 没有反向持仓可配对，留在队列中等待
	b.openExecs = append(b.openExecs, exec)
}

// Levels 返回交易对当前档位簿的快照
func (e *Engine) Levels(pairID string) []models.GridLevel {
	b := e.book(pairID)
	out := make([]models.GridLevel, 0, len(b.levels))
	for _, lvl := range b.levels {
		out = append(out, *lvl)
	}
	return out
}

// OpenExecutions 返回交易对未配对的成交快照
func (e *Engine) OpenExecutions(pairID string) []models.TradeExecution {
	return append([]models.TradeExecution(nil), e.book(pairID).openExecs...)
}

// LastPrice 返回交易对最近一次观察到的价格
func (e *Engine) LastPrice(pairID string) float64 {
	return e.book(pairID).lastPrice
}

// DrainCycles 取走交易对已完成的周期，调用方负责落库和统计
func (e *Engine) DrainCycles(pairID string) []models.TradeCycle {
	b := e.book(pairID)
	cycles := b.cycles
	b.cycles = nil
	return cycles
}

// UnrealizedProfit 按当前价估算交易对未配对持仓的浮动盈亏
func (e *Engine) UnrealizedProfit(pairID string, price float64) float64 {
	var total float64
	for _, open := range e.book(pairID).openExecs {
		if open.Side == models.Buy {
			total += open.Quantity * (price - open.ExecPrice)
		} else {
			total += open.Quantity * (open.ExecPrice - price)
		}
	}
	return total
}
