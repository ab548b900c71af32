package pubsub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"swap-router/internal/order"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// clientCommand 是浏览器端发来的订阅指令。
type clientCommand struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	OrderID string `json:"orderId"`
}

// statusEnvelope 是推送给客户端的线格式。
type statusEnvelope struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Payload   order.Snapshot `json:"payload"`
}

// Bridge 把 Publisher 的订单状态流桥接到 WebSocket 连接上。
// 订阅关系由客户端管理：连接后发 subscribe/unsubscribe 指令。
type Bridge struct {
	pub    *Publisher
	logger *zap.Logger
}

// NewBridge 创建 WebSocket 桥接器。
func NewBridge(pub *Publisher, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{pub: pub, logger: logger}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu   sync.Mutex
	subs map[string]*Subscription
	once sync.Once
}

// HandleWS 处理 WebSocket 升级请求。
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendBuf),
		done: make(chan struct{}),
		subs: make(map[string]*Subscription),
	}

	b.logger.Info("WebSocket 客户端接入", zap.String("remote", conn.RemoteAddr().String()))

	go b.writePump(c)
	go b.readPump(c)
}

// readPump 消费客户端指令，连接断开时负责清理全部订阅。
func (b *Bridge) readPump(c *wsClient) {
	defer b.closeClient(c)

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd clientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("WebSocket 读取异常", zap.Error(err))
			}
			return
		}
		if cmd.OrderID == "" {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			b.subscribe(c, cmd.OrderID)
		case "unsubscribe":
			b.unsubscribe(c, cmd.OrderID)
		}
	}
}

func (b *Bridge) subscribe(c *wsClient, orderID string) {
	c.mu.Lock()
	if _, exists := c.subs[orderID]; exists {
		c.mu.Unlock()
		return
	}
	sub := b.pub.Subscribe(orderID)
	c.subs[orderID] = sub
	c.mu.Unlock()

	// 每个订阅一个转发 goroutine，订阅通道关闭即退出。
	go func() {
		for snap := range sub.C() {
			data, err := json.Marshal(statusEnvelope{
				Type:      "order-status",
				Timestamp: time.Now().UTC(),
				Payload:   snap,
			})
			if err != nil {
				b.logger.Warn("序列化状态快照失败", zap.Error(err))
				continue
			}
			select {
			case c.send <- data:
			case <-c.done:
				return
			default:
				b.logger.Warn("WebSocket 客户端过慢，丢弃消息",
					zap.String("orderId", snap.OrderID))
			}
		}
	}()
}

func (b *Bridge) unsubscribe(c *wsClient, orderID string) {
	c.mu.Lock()
	sub, ok := c.subs[orderID]
	if ok {
		delete(c.subs, orderID)
	}
	c.mu.Unlock()

	if ok {
		b.pub.Unsubscribe(sub)
	}
}

func (b *Bridge) closeClient(c *wsClient) {
	c.once.Do(func() {
		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]*Subscription)
		c.mu.Unlock()

		for _, sub := range subs {
			b.pub.Unsubscribe(sub)
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump 把 send 通道里的消息写到连接上，并定期发 ping。
func (b *Bridge) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		b.closeClient(c)
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
