package adaptive

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

// KlineWarmer 用于在启动时拉取最近的1分钟K线，预填波动率窗口
type KlineWarmer struct {
	client *binance.Client
}

// NewKlineWarmer 创建一个新的预热器
func NewKlineWarmer() *KlineWarmer {
	return &KlineWarmer{
		client: binance.NewClient("", ""), // 公共接口不需要API Key
	}
}

// RecentCloses 返回指定交易对最近 limit 根1分钟K线的收盘价，按时间升序
func (w *KlineWarmer) RecentCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// REST接口要求大写符号，行情流配置里是小写的
	klines, err := w.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval("1m").
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("拉取 %s 的K线数据失败: %v", symbol, err)
	}

	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		c, err := strconv.ParseFloat(k.Close, 64)
		if err != nil || c <= 0 {
			continue
		}
		closes = append(closes, c)
	}
	return closes, nil
}
