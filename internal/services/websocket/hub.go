package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/logger"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// FrameMessage is the JSON payload sent to viewers for every annotated frame.
type FrameMessage struct {
	Camera    string `json:"camera"`
	Image     string `json:"image"`
	Vehicles  int    `json:"vehicles"`
	Ambulance bool   `json:"ambulance"`
}

// HubService fans annotated frames out to connected viewers.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     *logger.Logger

	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 4),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
}

// Run serves the hub until ctx is done, then closes every viewer. It is the
// only writer to viewer connections, pings included.
func (h *HubService) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			for _, client := range h.snapshot() {
				if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					h.logger.Warning("Error pinging viewer: %v", err)
					h.remove(client)
				}
			}

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			for _, client := range h.snapshot() {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warning("Error sending frame to viewer: %v", err)
					h.remove(client)
				}
			}
		}
	}
}

func (h *HubService) snapshot() []*websocket.Conn {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *HubService) remove(client *websocket.Conn) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.mutex.Unlock()

	if ok {
		client.Close()
		h.logger.Info("Viewer disconnected. Total: %d", total)
	}
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a viewer. It returns false when the hub has stopped.
func (h *HubService) Register(ctx context.Context, client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-ctx.Done():
		return false
	}
}

// Serve registers client and reads from it until it disconnects or stops
// answering pings. Viewers only ever send pongs and the occasional keepalive.
func (h *HubService) Serve(ctx context.Context, client *websocket.Conn) {
	client.SetReadLimit(512)
	client.SetReadDeadline(time.Now().Add(h.pongWait))
	client.SetPongHandler(func(string) error {
		return client.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	if !h.Register(ctx, client) {
		return
	}
	defer h.Unregister(ctx, client)

	for {
		if _, _, err := client.ReadMessage(); err != nil {
			return
		}
		client.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

// Unregister removes a viewer.
func (h *HubService) Unregister(ctx context.Context, client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-ctx.Done():
	}
}

// Broadcast queues a message for all viewers. When viewers are slow the
// message is dropped instead of blocking the caller.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// PushFrame broadcasts an annotated JPEG with its summary.
func (h *HubService) PushFrame(camera string, jpeg []byte, summary detection.FrameSummary) {
	if h.GetClientCount() == 0 {
		return
	}

	msg, err := json.Marshal(FrameMessage{
		Camera:    camera,
		Image:     base64.StdEncoding.EncodeToString(jpeg),
		Vehicles:  summary.VehicleCount,
		Ambulance: summary.AmbulancePresent,
	})
	if err != nil {
		h.logger.Error("Failed to encode viewer frame: %v", err)
		return
	}
	h.Broadcast(msg)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
