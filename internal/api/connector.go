package api

import (
	"context"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crypto-pair-monitor/internal/stream"
)

// Connector 基于 gorilla/websocket 的传输层实现
// 负责建立连接、下发订阅/退订指令，并把原始帧推入通道；
// 帧的解析与分发由摄取循环完成，这里不做任何业务处理
type Connector struct {
	wsConn       *websocket.Conn
	logger       *zap.Logger
	frameChannel chan []byte

	writeMu   sync.Mutex // gorilla 的写端不允许并发
	closeOnce sync.Once
}

// subscribeCommand 会话启动时下发的订阅指令
type subscribeCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Dial 建立 WebSocket 连接并返回 Transport
// 连接失败直接返回错误，由调用方决定是否重新发起
func Dial(ctx context.Context, wsURL string, logger *zap.Logger) (stream.Transport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		wsConn: conn,
		logger: logger.With(zap.String("component", "connector")),
		// 足够的缓冲区来应对高频数据
		frameChannel: make(chan []byte, 2048),
	}

	go c.readLoop()
	return c, nil
}

// Subscribe 下发订阅指令
func (c *Connector) Subscribe(symbols []string) error {
	return c.Send(subscribeCommand{Action: "subscribe", Symbols: symbols})
}

// Unsubscribe 下发退订指令
func (c *Connector) Unsubscribe(symbols []string) error {
	return c.Send(subscribeCommand{Action: "unsubscribe", Symbols: symbols})
}

// Send 向传输层写入一条 JSON 指令
func (c *Connector) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.wsConn.WriteJSON(v)
}

// Frames 原始帧输出通道；传输层关闭或出错时该通道被关闭
func (c *Connector) Frames() <-chan []byte {
	return c.frameChannel
}

// Close 关闭底层连接 (幂等)
func (c *Connector) Close() error {
	c.closeOnce.Do(func() {
		if err := c.wsConn.Close(); err != nil {
			c.logger.Debug("Close websocket", zap.Error(err))
		}
	})
	return nil
}

// readLoop 持续读取 WS 帧并推入通道
// 读错误意味着连接已不可用：关闭输出通道并退出，不在这里重连
func (c *Connector) readLoop() {
	defer close(c.frameChannel)

	for {
		_, message, err := c.wsConn.ReadMessage()
		if err != nil {
			c.logger.Warn("Error reading WS message, closing transport", zap.Error(err))
			return
		}

		// 使用 select/default 防止阻塞读循环
		select {
		case c.frameChannel <- message:
		default:
			c.logger.Warn("Frame channel full! Dropping inbound frame")
		}
	}
}
