package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dex-grid-bot-go/internal/adaptive"
	"dex-grid-bot-go/internal/allocator"
	"dex-grid-bot-go/internal/bot"
	"dex-grid-bot-go/internal/chain"
	"dex-grid-bot-go/internal/config"
	"dex-grid-bot-go/internal/engine"
	"dex-grid-bot-go/internal/executor"
	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"
	"dex-grid-bot-go/internal/persistence"
	"dex-grid-bot-go/internal/pricing"
	"dex-grid-bot-go/internal/reporter"
	"dex-grid-bot-go/internal/risk"
	"dex-grid-bot-go/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 为了在加载.env或配置时就能记录日志，先用默认配置初始化一次
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	// 环境变量优先于配置文件中的RPC地址
	if rpcURL := os.Getenv("RPC_URL"); rpcURL != "" {
		cfg.RPCURL = rpcURL
	}

	if !cfg.DryRun {
		logger.S().Fatal("实盘执行尚未接入，请将 dry_run 设为 true 运行。")
	}

	enabled := config.EnabledPairs(cfg)

	// --- 链上只读协作方 (可选) ---
	var chainClient *chain.Client
	if cfg.RPCURL != "" && cfg.QuoterAddress != "" {
		chainClient, err = chain.NewClient(cfg.RPCURL, cfg.QuoterAddress, cfg.USDAsset, cfg.Tokens)
		if err != nil {
			logger.S().Fatalf("初始化链上客户端失败: %v", err)
		}
		defer chainClient.Close()
	} else {
		logger.S().Warn("未配置RPC节点，链上报价来源不可用，仅依赖行情流。")
	}

	// --- 报价来源与聚合器 ---
	maxAge := time.Duration(cfg.PriceCacheTTLSec) * time.Second
	stream := pricing.NewStreamFeed(cfg.StreamWSURL, enabled, maxAge, nil)
	stream.Start()
	defer stream.Stop()

	sources := []pricing.PriceSource{stream}
	if chainClient != nil {
		sources = append(sources, pricing.NewDirectSource(chainClient))
		if cfg.BridgeAsset != "" {
			sources = append(sources, pricing.NewChainedSource(chainClient, cfg.BridgeAsset))
		}
	}

	agg := pricing.NewAggregator(pricing.AggregatorConfig{
		CacheTTL:      time.Duration(cfg.PriceCacheTTLSec) * time.Second,
		Retries:       cfg.SourceRetries,
		RetryDelay:    time.Duration(cfg.SourceRetryDelayMs) * time.Millisecond,
		FailThreshold: cfg.SourceFailThreshold,
		Sanity:        cfg.PriceSanity,
	}, sources...)

	// --- 成本模型与执行器 ---
	var gas engine.GasPricer
	if chainClient != nil {
		gas = chainClient
	}
	costs := engine.NewCostEstimator(engine.CostConfig{
		NativeAsset:      cfg.NativeAsset,
		GasCostUSDBase:   cfg.GasCostUSDBase,
		SlippageBase:     cfg.SlippageBase,
		SlippageDepthUSD: cfg.SlippageDepthUSD,
	}, agg, gas)

	// dry-run 模式用模拟执行器，初始资金全部记在美元锚定资产名下
	exec := executor.NewSimExecutor(cfg.SlippageBase, map[string]float64{
		cfg.USDAsset: cfg.TotalInvestment,
	})

	// --- 周期引擎 ---
	eng := engine.NewEngine(engine.Config{
		MinProfitUSD:      cfg.MinProfitUSD,
		MinProfitPercent:  cfg.MinProfitPercent,
		SlippageTolerance: cfg.SlippageTolerance,
		MaxLevelFailures:  cfg.MaxLevelFailures,
		ExecTimeout:       time.Duration(cfg.ExecTimeoutSec) * time.Second,
	}, costs, exec)

	// --- 资金分配与风控 ---
	alloc, err := allocator.New(allocator.Config{
		TotalInvestment:     cfg.TotalInvestment,
		DefaultGridCount:    cfg.GridCount,
		DefaultRangePercent: cfg.RangePercent,
		MaxConcurrentTrades: cfg.MaxConcurrentTrades,
		BatchSize:           cfg.BatchSize,
	}, enabled)
	if err != nil {
		logger.S().Fatalf("初始化资金分配失败: %v", err)
	}

	riskMon := risk.NewMonitor(risk.Config{
		DailyLossLimitUSD:    cfg.DailyLossLimitUSD,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		EmergencyStopLossUSD: cfg.EmergencyStopLossUSD,
	})

	// --- 持久化与台账 ---
	var repo persistence.StateRepository
	if cfg.DBPath != "" {
		repo, err = persistence.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			logger.S().Fatalf("打开状态库失败: %v", err)
		}
	} else {
		logger.S().Warn("未配置 db_path，状态只保存在内存中。")
		repo = persistence.NewMemoryRepository()
	}
	defer repo.Close()

	var ledger *sql.DB
	if cfg.LedgerPath != "" {
		ledger, err = storage.InitDB(cfg.LedgerPath)
		if err != nil {
			logger.S().Fatalf("打开交易台账失败: %v", err)
		}
		defer ledger.Close()
	}

	// --- 组装并启动控制循环 ---
	recipient := os.Getenv("WALLET_ADDRESS")
	gridBot := bot.NewBot(cfg, enabled, agg, eng, alloc, riskMon, repo, ledger,
		adaptive.NewKlineWarmer(), recipient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gridBot.Start(ctx)
	}()

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.S().Info("收到退出信号，正在停止...")
		gridBot.Stop()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.S().Errorf("控制循环异常退出: %v", err)
		}
	}

	// --- 会话报告 ---
	var perPair []storage.PairPerformance
	if ledger != nil {
		if perPair, err = storage.LoadPairPerformance(ledger); err != nil {
			logger.S().Warnf("读取分交易对表现失败: %v", err)
		}
	}
	totals := gridBot.Totals()
	reporter.GenerateReport(totals, perPair, cfg.TotalInvestment, totals.UnrealizedProfit, gridBot.StartTime())

	logger.S().Info("机器人已成功停止，状态已保存。")
}
