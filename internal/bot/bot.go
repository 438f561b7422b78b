package bot

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"dex-grid-bot-go/internal/adaptive"
	"dex-grid-bot-go/internal/allocator"
	"dex-grid-bot-go/internal/engine"
	"dex-grid-bot-go/internal/grid"
	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"
	"dex-grid-bot-go/internal/persistence"
	"dex-grid-bot-go/internal/pricing"
	"dex-grid-bot-go/internal/risk"
	"dex-grid-bot-go/internal/storage"

	"go.uber.org/zap"
)

// VolatilityWarmer 提供历史收盘价，用于启动时预填波动率窗口。
// 取不到历史数据不是致命错误，窗口会随运行自然填满。
type VolatilityWarmer interface {
	RecentCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
}

// pairRuntime 是单个交易对在控制循环内的运行时状态
type pairRuntime struct {
	cfg        models.PairConfig
	controller *adaptive.Controller
	state      *models.PairState
}

// priceResult 是并发取价阶段的单个结果
type priceResult struct {
	pairID string
	quote  models.PriceQuote
	err    error
}

// Bot 是把所有组件编排起来的控制循环。
// 所有状态修改都发生在循环自己的goroutine里: 取价并发进行，
// 但结果先汇聚成完整的价格表，然后才开始改动任何状态。
type Bot struct {
	cfg     *models.Config
	agg     *pricing.Aggregator
	eng     *engine.Engine
	alloc   *allocator.Allocator
	riskMon *risk.Monitor
	repo    persistence.StateRepository
	ledger  *sql.DB
	warmer  VolatilityWarmer

	pairs  map[string]*pairRuntime
	order  []string // 稳定的遍历顺序
	totals models.RunningTotals

	recipient string
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.SugaredLogger
}

// NewBot 组装控制循环。ledger 与 warmer 均可为 nil。
func NewBot(
	cfg *models.Config,
	enabledPairs []models.PairConfig,
	agg *pricing.Aggregator,
	eng *engine.Engine,
	alloc *allocator.Allocator,
	riskMon *risk.Monitor,
	repo persistence.StateRepository,
	ledger *sql.DB,
	warmer VolatilityWarmer,
	recipient string,
) *Bot {
	b := &Bot{
		cfg:       cfg,
		agg:       agg,
		eng:       eng,
		alloc:     alloc,
		riskMon:   riskMon,
		repo:      repo,
		ledger:    ledger,
		warmer:    warmer,
		pairs:     make(map[string]*pairRuntime, len(enabledPairs)),
		recipient: recipient,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    logger.Named("bot"),
	}

	ctrlCfg := adaptive.ControllerConfig{
		WindowSize:             cfg.VolatilityWindowSize,
		HighVolThreshold:       cfg.HighVolThreshold,
		LowVolThreshold:        cfg.LowVolThreshold,
		GridCountBase:          cfg.GridCount,
		GridCountHighVol:       cfg.GridCountHighVol,
		GridCountLowVol:        cfg.GridCountLowVol,
		ProfitMarginBase:       cfg.ProfitMarginBase,
		ProfitMarginLow:        cfg.ProfitMarginLow,
		ProfitMarginHigh:       cfg.ProfitMarginHigh,
		SignificantMovePercent: cfg.SignificantMovePercent,
		ForcedUpdatePercent:    cfg.ForcedUpdatePercent,
		ReplanCooldown:         time.Duration(cfg.ReplanCooldownSec) * time.Second,
	}

	for _, p := range enabledPairs {
		b.pairs[p.PairID] = &pairRuntime{
			cfg:        p,
			controller: adaptive.NewController(p.PairID, ctrlCfg),
			state:      &models.PairState{PairID: p.PairID},
		}
		b.order = append(b.order, p.PairID)
	}

	return b
}

// Start 恢复状态、预填波动率窗口，然后进入主循环直到 Stop 被调用
func (b *Bot) Start(ctx context.Context) error {
	defer close(b.doneCh)

	if err := b.restoreState(); err != nil {
		return err
	}
	b.warmupVolatility(ctx)

	b.startTime = time.Now()
	interval := time.Duration(b.cfg.MonitorIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 不可用报价来源的后台探测，比主循环低频得多
	probeTicker := time.NewTicker(time.Minute)
	defer probeTicker.Stop()

	b.logger.Infof("控制循环启动: %d 个交易对, 周期 %s", len(b.pairs), interval)

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return ctx.Err()
		case <-b.stopCh:
			b.shutdown()
			return nil
		case <-probeTicker.C:
			if len(b.order) > 0 {
				b.agg.ProbeUnavailable(ctx, b.pairs[b.order[0]].cfg.BaseAsset)
			}
		case <-ticker.C:
			b.runCycle(ctx)
		}
	}
}

// Stop 请求停止主循环并等待其退出。可以安全地多次调用。
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// shutdown 在循环退出前落盘最终快照
func (b *Bot) shutdown() {
	b.persistState()
	b.logger.Info("控制循环已停止")
}

// restoreState 从状态库恢复上次运行的档位簿、统计和风控状态
func (b *Bot) restoreState() error {
	if b.repo == nil {
		return nil
	}
	state, err := b.repo.LoadState()
	if err != nil {
		return err
	}
	if state == nil {
		b.logger.Info("未发现历史状态，全新启动")
		return nil
	}

	b.totals = state.Totals
	b.riskMon.Restore(state.Risk)

	restored := 0
	for pairID, ps := range state.Pairs {
		rt, ok := b.pairs[pairID]
		if !ok {
			b.logger.Warnf("忽略已停用交易对 %s 的历史状态", pairID)
			continue
		}
		rt.state = ps
		b.eng.RestoreBook(pairID, ps.Levels, ps.OpenExecutions, ps.CenterPrice)
		restored++
	}

	b.logger.Infof("状态恢复完成: %d 个交易对, 已完成周期 %d 个", restored, b.totals.CompletedCycles)
	return nil
}

// warmupVolatility 用历史收盘价预填各交易对的波动率窗口
func (b *Bot) warmupVolatility(ctx context.Context) {
	if b.warmer == nil {
		return
	}
	for _, pairID := range b.order {
		rt := b.pairs[pairID]
		if rt.cfg.StreamSymbol == "" || rt.controller.SampleCount() > 0 {
			continue
		}
		closes, err := b.warmer.RecentCloses(ctx, rt.cfg.StreamSymbol, b.cfg.VolatilityWindowSize)
		if err != nil {
			b.logger.Warnf("[%s] 历史收盘价预填失败，波动率将随运行积累: %v", pairID, err)
			continue
		}
		rt.controller.Seed(closes)
	}
}

// runCycle 执行一个完整的监控周期:
// 并发取价 -> 观察与触发检测 -> 按需重建 -> 校验与调度执行 -> 落盘。
func (b *Bot) runCycle(ctx context.Context) {
	prices := b.fetchPrices(ctx)
	if len(prices) == 0 {
		b.logger.Warn("本周期未取得任何报价，跳过")
		return
	}

	var triggered []*models.GridLevel
	for _, pairID := range b.order {
		price, ok := prices[pairID]
		if !ok {
			// 报价缺失的交易对本周期完全跳过，绝不使用陈旧价格交易
			continue
		}

		rt := b.pairs[pairID]
		rt.controller.Observe(price)

		b.maybeReplan(ctx, rt, price)

		if b.riskMon.Halted() {
			continue
		}
		levels := b.eng.DetectTriggers(pairID, price)
		if len(levels) == 0 {
			continue
		}
		if !b.alloc.ReadyToTrade(pairID, time.Now()) {
			// 冷却期内触发的档位放回待触发状态，下次穿越时重新触发
			b.eng.ReleaseLevels(levels)
			continue
		}
		triggered = append(triggered, levels...)
	}

	if len(triggered) > 0 {
		b.executeTriggered(ctx, triggered, prices)
	}

	b.updateUnrealized(prices)
	b.persistState()
}

// fetchPrices 并发获取所有交易对基础资产的报价。
// 结果先全部汇聚，返回后才允许修改任何状态。
func (b *Bot) fetchPrices(ctx context.Context) map[string]float64 {
	results := make(chan priceResult, len(b.pairs))
	var wg sync.WaitGroup

	for _, pairID := range b.order {
		rt := b.pairs[pairID]
		wg.Add(1)
		go func(pairID, asset string) {
			defer wg.Done()
			quote, err := b.agg.GetPrice(ctx, asset)
			results <- priceResult{pairID: pairID, quote: quote, err: err}
		}(pairID, rt.cfg.BaseAsset)
	}
	wg.Wait()
	close(results)

	prices := make(map[string]float64, len(b.pairs))
	for r := range results {
		if r.err != nil {
			b.logger.Warnf("[%s] 取价失败: %v", r.pairID, r.err)
			continue
		}
		prices[r.pairID] = r.quote.Price
	}
	return prices
}

// maybeReplan 判断并执行网格重建
func (b *Bot) maybeReplan(ctx context.Context, rt *pairRuntime, price float64) {
	decision := rt.controller.ShouldReplan(
		price, rt.state.RangeLow, rt.state.RangeHigh, rt.state.CenterPrice,
		rt.state.LastReplanTime, time.Now(),
	)
	if !decision.Replan {
		return
	}
	b.logger.Infof("[%s] 重建网格: %s", rt.cfg.PairID, decision.Reason)

	params := rt.controller.CurrentParams()
	alloc, ok := b.alloc.Allocation(rt.cfg.PairID)
	if !ok {
		b.logger.Errorf("[%s] 缺少资金分配，无法重建", rt.cfg.PairID)
		return
	}

	gridCount := params.GridCount
	if gridCount <= 0 {
		gridCount = alloc.GridCount
	}
	profitMargin := params.ProfitMargin
	if profitMargin <= 0 {
		profitMargin = b.cfg.ProfitMarginBase
	}

	levels, err := grid.PlanLevels(grid.PlanParams{
		PairID:              rt.cfg.PairID,
		CurrentPrice:        price,
		RangePercent:        alloc.RangePercent,
		Count:               gridCount,
		SizingMode:          models.SizingMode(b.cfg.SizingMode),
		InvestmentUSD:       alloc.AllocationUSD,
		GeometricRatio:      b.cfg.GeometricRatio,
		GeometricScale:      b.cfg.GeometricScale,
		HybridMaxMultiplier: b.cfg.HybridMaxMultiplier,
		SlippageTolerance:   b.cfg.SlippageTolerance,
		ProfitTarget:        profitMargin,
	})
	if err != nil {
		b.logger.Errorf("[%s] 网格规划失败: %v", rt.cfg.PairID, err)
		return
	}

	rangeLow := price * (1 - alloc.RangePercent)
	rangeHigh := price * (1 + alloc.RangePercent)
	b.eng.SetLevels(rt.cfg.PairID, levels, rangeLow, rangeHigh)

	rt.state.RangeLow = rangeLow
	rt.state.RangeHigh = rangeHigh
	rt.state.CenterPrice = price
	rt.state.LastReplanTime = time.Now()

	b.logger.Infof("[%s] 网格已重建: %d 档, 区间 [%.6f, %.6f], 状态 %s",
		rt.cfg.PairID, len(levels), rangeLow, rangeHigh, params.Regime)
}

// executeTriggered 对触发档位做盈利校验，然后按优先级分批提交执行
func (b *Bot) executeTriggered(ctx context.Context, triggered []*models.GridLevel, prices map[string]float64) {
	volatility := make(map[string]float64, len(b.pairs))
	for pairID, rt := range b.pairs {
		volatility[pairID] = rt.controller.Volatility()
	}

	// 校验阶段: 不能盈利的档位在这里被拒绝并移出档位簿
	costsByLevel := make(map[int64]models.TradeCosts, len(triggered))
	validated := triggered[:0]
	for _, lvl := range triggered {
		rt := b.pairs[lvl.PairID]
		costs, ok := b.eng.Validate(ctx, lvl, rt.cfg.PoolFeePercent)
		if !ok {
			continue
		}
		costsByLevel[lvl.ID] = costs
		validated = append(validated, lvl)
	}
	if len(validated) == 0 {
		return
	}

	b.alloc.Prioritize(validated, prices, volatility)

	// 执行是同步的，进入调度时没有在途交易
	batches, dropped := b.alloc.Batch(validated, 0)
	b.eng.ReleaseLevels(dropped)

	for bi, batch := range batches {
		for li, lvl := range batch {
			stopped := false
			select {
			case <-b.stopCh:
				stopped = true
			default:
			}

			// 停止请求或周期结算触发的风控停止都只阻止新的提交，
			// 已提交的不中断；剩余档位放回待触发状态
			if stopped || b.riskMon.Halted() {
				rest := append([]*models.GridLevel(nil), batch[li:]...)
				for _, later := range batches[bi+1:] {
					rest = append(rest, later...)
				}
				b.eng.ReleaseLevels(rest)
				if stopped {
					b.logger.Info("停止中，剩余档位已放回待触发状态")
				} else {
					b.logger.Warnf("风控已触发紧急停止，剩余 %d 个档位放回待触发状态", len(rest))
				}
				return
			}

			b.commitLevel(ctx, lvl, costsByLevel[lvl.ID], prices[lvl.PairID])
		}
	}
}

// commitLevel 提交单个档位并处理成交后的周期结算
func (b *Bot) commitLevel(ctx context.Context, lvl *models.GridLevel, costs models.TradeCosts, refPrice float64) {
	rt := b.pairs[lvl.PairID]
	now := time.Now()

	exec, err := b.eng.Commit(ctx, lvl, rt.cfg, refPrice, costs, b.recipient)
	if err != nil {
		rt.state.TradeFailures++
		b.alloc.RecordOutcome(lvl.PairID, false, now)
		return
	}

	rt.state.TradeSuccesses++
	rt.state.LastTradeTime = now
	b.alloc.RecordOutcome(lvl.PairID, true, now)

	b.totals.TotalTrades++
	b.totals.TotalFees += exec.Costs.PoolFee
	b.totals.TotalGas += exec.Costs.GasCost
	b.totals.TotalSlippage += exec.Costs.Slippage

	if b.ledger != nil {
		if err := storage.RecordExecution(b.ledger, exec); err != nil {
			b.logger.Errorf("[%s] 成交记录落库失败: %v", lvl.PairID, err)
		}
	}

	b.settleCycles(lvl.PairID)
}

// settleCycles 取走已完成的周期，更新统计并交给风控和台账
func (b *Bot) settleCycles(pairID string) {
	for _, cycle := range b.eng.DrainCycles(pairID) {
		b.totals.CompletedCycles++
		b.totals.RealizedProfit += cycle.NetProfit
		if cycle.NetProfit >= 0 {
			b.totals.WinningCycles++
		} else {
			b.totals.LosingCycles++
		}

		b.riskMon.RecordCycle(cycle)

		if b.ledger != nil {
			c := cycle
			if err := storage.RecordCycle(b.ledger, &c); err != nil {
				b.logger.Errorf("[%s] 周期记录落库失败: %v", pairID, err)
			}
		}
	}

	if b.riskMon.Halted() {
		b.logger.Error("风控已触发紧急停止，不再提交新交易")
	}
}

// updateUnrealized 重算浮动盈亏并记录持仓失衡峰值
func (b *Bot) updateUnrealized(prices map[string]float64) {
	var unrealized float64
	var buyNotional, sellNotional float64

	for pairID, price := range prices {
		unrealized += b.eng.UnrealizedProfit(pairID, price)
		for _, open := range b.eng.OpenExecutions(pairID) {
			if open.Side == models.Buy {
				buyNotional += open.Quantity * price
			} else {
				sellNotional += open.Quantity * price
			}
		}
	}
	b.totals.UnrealizedProfit = unrealized

	total := buyNotional + sellNotional
	if total > 0 {
		imbalance := (buyNotional - sellNotional) / total
		if imbalance < 0 {
			imbalance = -imbalance
		}
		b.riskMon.RecordImbalance(imbalance)
	}
}

// persistState 把当前完整状态写入状态库
func (b *Bot) persistState() {
	if b.repo == nil {
		return
	}

	state := &models.BotState{
		BotID:  "dex-grid-bot",
		Pairs:  make(map[string]*models.PairState, len(b.pairs)),
		Totals: b.totals,
		Risk:   b.riskMon.State(),
	}
	for pairID, rt := range b.pairs {
		ps := *rt.state
		ps.Levels = b.eng.Levels(pairID)
		ps.OpenExecutions = b.eng.OpenExecutions(pairID)
		state.Pairs[pairID] = &ps
	}

	if err := b.repo.SaveState(state); err != nil {
		b.logger.Errorf("状态落盘失败: %v", err)
	}
}

// Totals 返回累计统计的快照
func (b *Bot) Totals() models.RunningTotals {
	return b.totals
}

// StartTime 返回主循环的启动时间
func (b *Bot) StartTime() time.Time {
	return b.startTime
}

// ResetEmergencyStop 由操作员复位紧急停止
func (b *Bot) ResetEmergencyStop() {
	b.riskMon.Reset()
}
