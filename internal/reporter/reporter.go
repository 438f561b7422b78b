package reporter

import (
	"fmt"
	"os"
	"time"

	"dex-grid-bot-go/internal/models"
	"dex-grid-bot-go/internal/storage"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储一次运行会话的性能指标
type Metrics struct {
	InitialBalance   float64
	TotalProfit      float64
	ProfitPercentage float64
	CompletedCycles  int
	WinningCycles    int
	LosingCycles     int
	WinRate          float64
	TotalFees        float64
	TotalGas         float64
	TotalSlippage    float64
	UnrealizedProfit float64
	StartTime        time.Time
	EndTime          time.Time
}

// GenerateReport 在会话结束时计算并打印性能报告
func GenerateReport(totals models.RunningTotals, perPair []storage.PairPerformance, initialBalance, unrealized float64, startTime time.Time) {
	m := calculateMetrics(totals, initialBalance, unrealized)
	m.StartTime = startTime
	m.EndTime = time.Now()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("运行会话报告")
	t.AppendRows([]table.Row{
		{"运行周期", m.StartTime.Format("2006-01-02 15:04") + " 到 " + m.EndTime.Format("2006-01-02 15:04")},
		{"初始资金 (USD)", fmtF(m.InitialBalance)},
		{"已实现利润 (USD)", fmtF(m.TotalProfit)},
		{"收益率", fmtF(m.ProfitPercentage) + "%"},
		{"浮动盈亏 (USD)", fmtF(m.UnrealizedProfit)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"完成周期数", m.CompletedCycles},
		{"盈利周期数", m.WinningCycles},
		{"亏损周期数", m.LosingCycles},
		{"胜率", fmtF(m.WinRate) + "%"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"池子费合计 (USD)", fmtF(m.TotalFees)},
		{"gas合计 (USD)", fmtF(m.TotalGas)},
		{"滑点合计 (USD)", fmtF(m.TotalSlippage)},
	})
	t.Render()

	if len(perPair) > 0 {
		pt := table.NewWriter()
		pt.SetOutputMirror(os.Stdout)
		pt.SetTitle("分交易对表现")
		pt.AppendHeader(table.Row{"交易对", "周期数", "胜率", "毛利 (USD)", "成本 (USD)", "净利 (USD)"})
		for _, p := range perPair {
			winRate := 0.0
			if p.CycleCount > 0 {
				winRate = float64(p.WinCount) / float64(p.CycleCount) * 100
			}
			pt.AppendRow(table.Row{
				p.PairID, p.CycleCount, fmtF(winRate) + "%",
				fmtF(p.GrossProfit), fmtF(p.TotalCosts), fmtF(p.NetProfit),
			})
		}
		pt.Render()
	}
}

func calculateMetrics(totals models.RunningTotals, initialBalance, unrealized float64) *Metrics {
	m := &Metrics{
		InitialBalance:   initialBalance,
		TotalProfit:      totals.RealizedProfit,
		CompletedCycles:  totals.CompletedCycles,
		WinningCycles:    totals.WinningCycles,
		LosingCycles:     totals.LosingCycles,
		TotalFees:        totals.TotalFees,
		TotalGas:         totals.TotalGas,
		TotalSlippage:    totals.TotalSlippage,
		UnrealizedProfit: unrealized,
	}

	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}
	if m.CompletedCycles > 0 {
		m.WinRate = float64(m.WinningCycles) / float64(m.CompletedCycles) * 100
	}

	return m
}

func fmtF(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
