package websocket

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Hub owns room membership. All state is confined to the Run goroutine.
type Hub struct {
	rooms   map[string]*Room
	clients map[*WSClient]map[string]struct{}

	register   chan *WSClient
	unregister chan *WSClient
	join       chan membership
	leave      chan membership
	broadcast  chan *WSMessage
	roomSize   chan roomSizeReq
	done       chan struct{}

	metrics *metrics
}

func NewHub(reg prometheus.Registerer) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*WSClient]map[string]struct{}),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan *WSMessage, 256),
		roomSize:   make(chan roomSizeReq),
		done:       make(chan struct{}),
		metrics:    newMetrics(reg),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = make(map[string]struct{})
			h.metrics.connections.Inc()

		case client := <-h.unregister:
			h.remove(client)

		case m := <-h.join:
			joined, ok := h.clients[m.client]
			if !ok {
				continue
			}
			room, ok := h.rooms[m.roomID]
			if !ok {
				room = &Room{ID: m.roomID, Clients: make(map[*WSClient]struct{})}
				h.rooms[m.roomID] = room
				h.metrics.rooms.Set(float64(len(h.rooms)))
			}
			room.Clients[m.client] = struct{}{}
			joined[m.roomID] = struct{}{}

		case m := <-h.leave:
			h.leaveRoom(m.client, m.roomID)

		case message := <-h.broadcast:
			if message.Client != nil {
				if _, ok := h.clients[message.Client]; ok {
					h.deliver(message.Client, message.Data)
				}
				continue
			}
			room, ok := h.rooms[message.RoomID]
			if !ok {
				continue
			}
			for client := range room.Clients {
				h.deliver(client, message.Data)
			}

		case req := <-h.roomSize:
			size := 0
			if room, ok := h.rooms[req.roomID]; ok {
				size = len(room.Clients)
			}
			req.reply <- size
		}
	}
}

// deliver queues data without blocking the hub. A client that cannot keep
// up is disconnected.
func (h *Hub) deliver(client *WSClient, data []byte) {
	select {
	case client.send <- data:
		h.metrics.delivered.Inc()
	default:
		h.metrics.dropped.Inc()
		h.remove(client)
	}
}

func (h *Hub) remove(client *WSClient) {
	joined, ok := h.clients[client]
	if !ok {
		return
	}
	for roomID := range joined {
		h.leaveRoom(client, roomID)
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.connections.Dec()
}

func (h *Hub) leaveRoom(client *WSClient, roomID string) {
	if joined, ok := h.clients[client]; ok {
		delete(joined, roomID)
	}
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room.Clients, client)
	if len(room.Clients) == 0 {
		delete(h.rooms, roomID)
		h.metrics.rooms.Set(float64(len(h.rooms)))
	}
}

func (h *Hub) Register(client *WSClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Join(client *WSClient, roomID string) {
	select {
	case h.join <- membership{client: client, roomID: roomID}:
	case <-h.done:
	}
}

func (h *Hub) Leave(client *WSClient, roomID string) {
	select {
	case h.leave <- membership{client: client, roomID: roomID}:
	case <-h.done:
	}
}

// Broadcast queues data for every client joined to roomID.
func (h *Hub) Broadcast(roomID string, data []byte) {
	select {
	case h.broadcast <- &WSMessage{RoomID: roomID, Data: data}:
	case <-h.done:
	}
}

// Send queues data for a single client.
func (h *Hub) Send(client *WSClient, data []byte) {
	select {
	case h.broadcast <- &WSMessage{Client: client, Data: data}:
	case <-h.done:
	}
}

// RoomSize reports how many connections are joined to roomID.
func (h *Hub) RoomSize(roomID string) int {
	req := roomSizeReq{roomID: roomID, reply: make(chan int, 1)}
	select {
	case h.roomSize <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}
