package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/burnweek/camp-registration-system/live"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the admin dashboard origin once it has a stable
		// domain.
		return true
	},
}

// BoardHandler upgrades admin dashboard connections onto the live hub.
type BoardHandler struct {
	hub *live.Hub
}

func NewBoardHandler(hub *live.Hub) *BoardHandler {
	return &BoardHandler{hub: hub}
}

// ServeBoard godoc
// @Summary Live registration board for a season
// @Tags admin
// @Description Upgrades to a websocket that streams registration lifecycle events for the requested season.
// @Param season query int true "Season year"
// @Security BearerAuth
// @Router /admin/board [get]
func (h *BoardHandler) ServeBoard(w http.ResponseWriter, r *http.Request) {
	season, err := strconv.Atoi(r.URL.Query().Get("season"))
	if err != nil || season <= 0 {
		http.Error(w, "missing or invalid season", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		log.Printf("failed to upgrade board connection for season %d: %v", season, err)
		return
	}

	client := &live.Client{
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		Room: live.SeasonRoom(season),
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
