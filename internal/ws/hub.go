package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"waitlist_backend/internal/waitlist"
)

var ErrHubBusy = errors.New("websocket hub is busy")

// WSMessage: сообщение, уходящее клиентам по WebSocket.
type WSMessage struct {
	EventType     string      `json:"event_type"`
	WaitingListID uint        `json:"waiting_list_id"`
	Data          interface{} `json:"data"`
}

// BroadcastMessage рассылается в лист ожидания; при UserID != 0 уходит только этому пользователю.
type BroadcastMessage struct {
	WaitingListID uint
	UserID        uint
	Message       []byte
}

// Hub хранит подключения клиентов, сгруппированные по листу ожидания.
type Hub struct {
	// Для каждого листа ожидания храним множество подключений.
	clients map[uint]map[*Client]bool
	// Канал для регистрации нового клиента.
	register chan *Client
	// Канал для удаления клиента.
	unregister chan *Client
	// Канал для рассылки сообщений.
	broadcast chan BroadcastMessage
	// Закрывается при остановке Run.
	done chan struct{}
	// Mutex для защиты карты клиентов.
	mu sync.RWMutex
}

var (
	_ waitlist.EventSink = (*Hub)(nil)
	_ waitlist.Notifier  = (*Hub)(nil)
)

// NewHub создает новый Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run запускает цикл обработки каналов хаба до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.WaitingListID] == nil {
				h.clients[client.WaitingListID] = make(map[*Client]bool)
			}
			h.clients[client.WaitingListID][client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[message.WaitingListID] {
				if message.UserID != 0 && client.UserID != message.UserID {
					continue
				}
				select {
				case client.Send <- message.Message:
				default:
					// Клиент не успевает читать, отключаем.
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove вызывается под h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.WaitingListID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.WaitingListID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Subscribers возвращает число подключений к листу ожидания.
func (h *Hub) Subscribers(waitingListID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[waitingListID])
}

// Send ставит сообщение в очередь рассылки, не блокируясь.
func (h *Hub) Send(msg WSMessage, userID uint) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- BroadcastMessage{WaitingListID: msg.WaitingListID, UserID: userID, Message: payload}:
		return nil
	default:
		return ErrHubBusy
	}
}

// Emit рассылает событие движка всем подписчикам листа ожидания.
func (h *Hub) Emit(_ context.Context, ev waitlist.Event) {
	err := h.Send(WSMessage{
		EventType:     string(ev.Type),
		WaitingListID: ev.WaitingListID,
		Data:          ev,
	}, 0)
	if err != nil {
		log.Printf("Событие %s для листа %d не разослано: %v", ev.Type, ev.WaitingListID, err)
	}
}

// NotifyUser отправляет пользователю предложение слота или напоминание.
// Пользователь без подключения узнает о нём через запрос позиции.
func (h *Hub) NotifyUser(_ context.Context, n waitlist.Notification) error {
	return h.Send(WSMessage{
		EventType:     string(n.Kind),
		WaitingListID: n.WaitingListID,
		Data:          n,
	}, n.UserID)
}
