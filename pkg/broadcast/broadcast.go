// Package broadcast 把进度与日志推送给所有已连接的 WebSocket 客户端
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
)

// 消息类型
const (
	TypeLog      = "log"
	TypeMessage  = "message"
	TypeProgress = "progress"
	TypeError    = "error"
)

// Message 推送给客户端的一条消息
type Message struct {
	ToolName  string           `json:"toolName"`
	Type      string           `json:"type"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
	Progress  *progress.Update `json:"progress,omitempty"`
}

// Client 表示一个WebSocket客户端
type Client struct {
	Conn any          // WebSocket连接
	Send chan Message // 通道用于发送消息
}

// BroadcastService 广播服务结构
type BroadcastService struct {
	broadcastChan chan Message
	clients       map[*Client]bool
	register      chan *Client
	unregister    chan *Client // 通道用于注销特定客户端
	shutdown      chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
	mutex         sync.Mutex

	// ClientBuffer 每个客户端的发送缓冲，写满的客户端会被移除
	ClientBuffer int
	dropped      atomic.Int64
}

// NewBroadcastService 创建新的广播服务，buffer 为待广播队列长度
func NewBroadcastService(buffer int) *BroadcastService {
	if buffer <= 0 {
		buffer = 100
	}
	return &BroadcastService{
		broadcastChan: make(chan Message, buffer),
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
		ClientBuffer:  256,
	}
}

// Start 启动广播服务，直到 Close 被调用
func (b *BroadcastService) Start(wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}
	defer close(b.done)
	for {
		select {
		case client := <-b.register:
			b.mutex.Lock()
			b.clients[client] = true
			b.mutex.Unlock()
		case client := <-b.unregister:
			b.mutex.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mutex.Unlock()
		case <-b.shutdown:
			b.mutex.Lock()
			for client := range b.clients {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mutex.Unlock()
			return
		case message := <-b.broadcastChan:
			b.mutex.Lock()
			for client := range b.clients {
				select {
				case client.Send <- message:
				default:
					// 如果发送失败，移除客户端
					delete(b.clients, client)
					close(client.Send)
				}
			}
			b.mutex.Unlock()
		}
	}
}

// publish 不阻塞调用方；队列已满时丢弃消息
func (b *BroadcastService) publish(m Message) {
	if m.Timestamp == "" {
		m.Timestamp = GetTimeStr()
	}
	select {
	case b.broadcastChan <- m:
	default:
		b.dropped.Add(1)
	}
}

// SendLog 发送日志消息
func (b *BroadcastService) SendLog(name string, msg string) {
	b.publish(Message{ToolName: name, Type: TypeLog, Message: msg})
}

// SendMessage 发送普通消息
func (b *BroadcastService) SendMessage(name string, msg string) {
	b.publish(Message{ToolName: name, Type: TypeMessage, Message: msg})
}

// Report 实现 progress.Reporter
func (b *BroadcastService) Report(u progress.Update) {
	typ := TypeProgress
	if u.Status == progress.StatusError {
		typ = TypeError
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	b.publish(Message{
		ToolName:  u.Stage,
		Type:      typ,
		Message:   u.Message,
		Timestamp: u.Timestamp.Format(time.RFC3339),
		Progress:  &u,
	})
}

// RegisterClient 注册客户端。服务已关闭时返回的客户端通道已关闭。
func (b *BroadcastService) RegisterClient(conn any) *Client {
	client := &Client{
		Conn: conn,
		Send: make(chan Message, b.ClientBuffer),
	}
	select {
	case b.register <- client:
	case <-b.done:
		close(client.Send)
	}
	return client
}

// UnregisterClient 注销客户端
func (b *BroadcastService) UnregisterClient(client *Client) {
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// ClientCount 当前客户端数量
func (b *BroadcastService) ClientCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.clients)
}

// Dropped 因队列已满被丢弃的消息数
func (b *BroadcastService) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭广播服务，可重复调用
func (b *BroadcastService) Close() {
	b.closeOnce.Do(func() { close(b.shutdown) })
}

func GetTimeStr() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
