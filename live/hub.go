// Package live pushes registration lifecycle events to connected admin
// dashboards over websockets. Rooms are keyed by season, so a dashboard only
// sees the season it watches.
package live

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"

	"github.com/burnweek/camp-registration-system/models"
)

// Event types pushed to dashboards.
const (
	EventRegistrationCreated   = "REGISTRATION_CREATED"
	EventRegistrationConfirmed = "REGISTRATION_CONFIRMED"
	EventRegistrationCancelled = "REGISTRATION_CANCELLED"
	EventRegistrationUpdated   = "REGISTRATION_UPDATED"
	EventWaitlistPromoted      = "WAITLIST_PROMOTED"
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Room    string      `json:"room,omitempty"`
}

type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	rooms      map[string]map[*Client]bool
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.rooms[client.Room]; !ok {
				h.rooms[client.Room] = make(map[*Client]bool)
			}
			h.rooms[client.Room][client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.Room]; ok {
				if _, okClient := clients[client]; okClient {
					client.close()
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.rooms, client.Room)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// SeasonRoom names the room a season's events are broadcast to.
func SeasonRoom(season int) string {
	return "season_" + strconv.Itoa(season)
}

// RegistrationEvent broadcasts a lifecycle event to the registration's season
// room. Implements the services.Broadcaster port.
func (h *Hub) RegistrationEvent(eventType string, reg *models.Registration) {
	h.broadcastToRoom(SeasonRoom(reg.Season), Message{
		Type:    eventType,
		Payload: reg,
		Room:    SeasonRoom(reg.Season),
	})
}

func (h *Hub) broadcastToRoom(room string, message interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.rooms[room]
	if !ok {
		return
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("live: error marshalling message for room %s: %v", room, err)
		return
	}

	for client := range clients {
		client.trySend(messageBytes)
	}
}
