package ws

import (
	"context"
	"log/slog"
	"sync"

	servicesChat "salon_backend/internal/services/chat"
)

// ConnMetrics - счётчик активных соединений (реализует internal/metrics).
type ConnMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopConnMetrics struct{}

func (nopConnMetrics) ConnectionOpened() {}
func (nopConnMetrics) ConnectionClosed() {}

type WebSocketManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	mu         sync.RWMutex

	log     *slog.Logger
	metrics ConnMetrics
}

func NewWebSocketManager(log *slog.Logger, metrics ConnMetrics) *WebSocketManager {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = nopConnMetrics{}
	}
	return &WebSocketManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		log:        log.With("component", "ws"),
		metrics:    metrics,
	}
}

// Run обслуживает регистрацию клиентов до отмены ctx, затем закрывает всех.
func (manager *WebSocketManager) Run(ctx context.Context) {
	defer close(manager.stopped)
	for {
		select {
		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client.ID] = client
			total := len(manager.clients)
			manager.mu.Unlock()
			manager.metrics.ConnectionOpened()
			manager.log.Info("client registered", "client_id", client.ID, "user_id", client.Identity().ID, "total", total)

		case client := <-manager.unregister:
			manager.mu.Lock()
			_, ok := manager.clients[client.ID]
			delete(manager.clients, client.ID)
			total := len(manager.clients)
			manager.mu.Unlock()
			client.shutdown()
			if ok {
				manager.metrics.ConnectionClosed()
				manager.log.Info("client unregistered", "client_id", client.ID, "total", total)
			}

		case <-ctx.Done():
			manager.mu.Lock()
			clients := manager.clients
			manager.clients = make(map[string]*Client)
			manager.mu.Unlock()
			for _, client := range clients {
				client.shutdown()
				manager.metrics.ConnectionClosed()
			}
			manager.log.Info("websocket manager stopped", "closed", len(clients))
			return
		}
	}
}

// Register добавляет клиента; после остановки менеджера клиент сразу закрывается.
func (manager *WebSocketManager) Register(client *Client) bool {
	select {
	case manager.register <- client:
		return true
	case <-manager.stopped:
		client.shutdown()
		return false
	}
}

func (manager *WebSocketManager) Unregister(client *Client) {
	select {
	case manager.unregister <- client:
	case <-manager.stopped:
		client.shutdown()
	}
}

// BroadcastToUser отправляет кадр всем соединениям участника в канале channelName.
func (manager *WebSocketManager) BroadcastToUser(userID, channelName string, message OutgoingWSMessage) int {
	manager.mu.RLock()
	var targets []*Client
	for _, client := range manager.clients {
		if client.Identity().ID == userID && client.session.Channel().Name == channelName {
			targets = append(targets, client)
		}
	}
	manager.mu.RUnlock()

	sent := 0
	for _, client := range targets {
		if client.enqueue(message) {
			sent++
		}
	}
	return sent
}

// PushConversations рассылает свежий список переписок во все соединения
// участника сессии. Без подключений список не перечитывается.
func (manager *WebSocketManager) PushConversations(ctx context.Context, session *servicesChat.Session) {
	viewer := session.Viewer()
	if !manager.IsUserConnected(viewer.ID) {
		return
	}
	list, err := session.ListConversations(ctx)
	if err != nil {
		manager.log.Warn("conversations push failed", "user_id", viewer.ID, "error", err)
		return
	}
	manager.BroadcastToUser(viewer.ID, session.Channel().Name, OutgoingWSMessage{Type: TypeConversations, Data: list})
}

// GetClientCount возвращает количество подключенных клиентов
func (manager *WebSocketManager) GetClientCount() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}

func (manager *WebSocketManager) IsUserConnected(userID string) bool {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	for _, client := range manager.clients {
		if client.Identity().ID == userID {
			return true
		}
	}
	return false
}
