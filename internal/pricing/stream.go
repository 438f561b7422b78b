package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type streamTick struct {
	price float64
	at    time.Time
}

// StreamFeed 通过 WebSocket 订阅外部参考价行情流。
// 它只维护每个资产的最新成交价，作为聚合器的最高优先级来源。
type StreamFeed struct {
	wsURL   string
	assets  map[string]string // 订阅符号 -> 资产名
	maxAge  time.Duration     // 超过该时长的行情视为过期
	clock   Clock
	conn    *websocket.Conn
	mu      sync.RWMutex
	prices  map[string]streamTick
	stopCh  chan struct{}
	started bool
	logger  *zap.SugaredLogger
}

// NewStreamFeed 创建行情流来源。
// pairs 中每个启用交易对的 StreamSymbol 会被订阅，价格记在 BaseAsset 名下。
func NewStreamFeed(wsURL string, pairs []models.PairConfig, maxAge time.Duration, clock Clock) *StreamFeed {
	if clock == nil {
		clock = systemClock{}
	}
	assets := make(map[string]string)
	for _, p := range pairs {
		if p.StreamSymbol != "" {
			assets[strings.ToLower(p.StreamSymbol)] = p.BaseAsset
		}
	}
	return &StreamFeed{
		wsURL:  wsURL,
		assets: assets,
		maxAge: maxAge,
		clock:  clock,
		prices: make(map[string]streamTick),
		stopCh: make(chan struct{}),
		logger: logger.Named("stream"),
	}
}

func (f *StreamFeed) Name() string                  { return "stream" }
func (f *StreamFeed) Source() models.QuoteSource    { return models.SourceStream }
func (f *StreamFeed) Confidence() models.Confidence { return models.ConfidenceHigh }

// Fetch 返回资产的最新行情价，行情缺失或过期时报错
func (f *StreamFeed) Fetch(_ context.Context, asset string) (float64, error) {
	f.mu.RLock()
	tick, ok := f.prices[asset]
	f.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("行情流尚未收到 %s 的价格", asset)
	}
	if f.clock.Now().Sub(tick.at) > f.maxAge {
		return 0, fmt.Errorf("行情流中 %s 的价格已过期 (%.0fs)", asset, f.clock.Now().Sub(tick.at).Seconds())
	}
	return tick.price, nil
}

// Start 启动行情流守护循环，负责连接与断线重连
func (f *StreamFeed) Start() {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go f.connectLoop()
}

// Stop 停止行情流
func (f *StreamFeed) Stop() {
	close(f.stopCh)
}

func (f *StreamFeed) streamURL() string {
	streams := make([]string, 0, len(f.assets))
	for sym := range f.assets {
		streams = append(streams, sym+"@aggTrade")
	}
	return fmt.Sprintf("%s/stream?streams=%s", f.wsURL, strings.Join(streams, "/"))
}

// connectLoop 是一个守护循环，负责维持WebSocket的连接和重连
func (f *StreamFeed) connectLoop() {
	for {
		select {
		case <-f.stopCh:
			f.logger.Info("行情流循环已停止。")
			return
		default:
			conn, _, err := websocket.DefaultDialer.Dial(f.streamURL(), nil)
			if err != nil {
				f.logger.Warnf("行情流连接失败: %v。5秒后重试...", err)
				time.Sleep(5 * time.Second)
				continue
			}
			f.conn = conn
			f.logger.Info("行情流连接成功。")

			// readMessages 会阻塞直到连接断开
			if err := f.readMessages(); err != nil {
				f.logger.Warnf("行情流处理时发生错误: %v", err)
			}
			f.conn.Close()
			f.logger.Info("行情流连接已断开，准备重连...")
			time.Sleep(5 * time.Second)
		}
	}
}

// readMessages 为一个已建立的连接处理消息，并实现心跳机制
func (f *StreamFeed) readMessages() error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10 // 必须小于 pongWait
	)

	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-f.stopCh:
				return
			}
		}
	}()

	for {
		select {
		case <-f.stopCh:
			// 优雅关闭
			err := f.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				return fmt.Errorf("发送WebSocket关闭帧失败: %v", err)
			}
			return nil
		default:
			_, message, err := f.conn.ReadMessage()
			if err != nil {
				// 任何读取错误都意味着连接已损坏，返回错误让 connectLoop 处理重连
				return fmt.Errorf("读取消息失败: %v", err)
			}

			var envelope struct {
				Stream string `json:"stream"`
				Data   struct {
					Price json.Number `json:"p"`
				} `json:"data"`
			}
			if err := json.Unmarshal(message, &envelope); err != nil {
				f.logger.Debugf("解析行情消息失败: %v", err)
				continue
			}

			sym := strings.TrimSuffix(envelope.Stream, "@aggTrade")
			asset, ok := f.assets[sym]
			if !ok {
				continue
			}

			price, err := envelope.Data.Price.Float64()
			if err != nil || price <= 0 {
				continue
			}

			f.mu.Lock()
			f.prices[asset] = streamTick{price: price, at: f.clock.Now()}
			f.mu.Unlock()
		}
	}
}

// SetPrice 直接注入价格，仅用于测试和模拟模式
func (f *StreamFeed) SetPrice(asset string, price float64) {
	f.mu.Lock()
	f.prices[asset] = streamTick{price: price, at: f.clock.Now()}
	f.mu.Unlock()
}
