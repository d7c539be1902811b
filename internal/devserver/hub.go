package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	adminChannel = "admin"
	writeWait    = 10 * time.Second
)

func companyChannel(id int64) string {
	return "company_" + strconv.FormatInt(id, 10)
}

// hub fans pushed events out to the websocket clients of each channel.
type hub struct {
	mu       sync.Mutex
	channels map[string]map[chan []byte]struct{}
}

func newHub() *hub {
	return &hub{channels: make(map[string]map[chan []byte]struct{})}
}

func (h *hub) addClient(channel string) chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[chan []byte]struct{})
	}
	h.channels[channel][ch] = struct{}{}
	return ch
}

func (h *hub) removeClient(channel string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel][ch]; !ok {
		return
	}
	delete(h.channels[channel], ch)
	close(ch)
}

// broadcast sends msg to every client of channel. Slow clients miss it.
func (h *hub) broadcast(channel string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.channels[channel] {
		select {
		case ch <- data:
		default:
		}
	}
}

// broadcastAll sends msg on every channel.
func (h *hub) broadcastAll(msg any) {
	h.mu.Lock()
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	h.mu.Unlock()
	for _, name := range names {
		h.broadcast(name, msg)
	}
}

func (h *hub) clients(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// serve upgrades the request and pumps the channel to it until either side
// goes away.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := h.addClient(channel)
	defer h.removeClient(channel, send)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
