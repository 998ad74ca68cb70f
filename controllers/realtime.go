package controllers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lab-management-api/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers cannot set Authorization headers on websockets from other
	// origins anyway; origin policy is enforced by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ResearchLogStream upgrades the request to a websocket and registers the
// caller for push events. The connection is receive-only from the client's
// perspective except for a keep-alive: a text "ping" is answered with a
// pong envelope.
func ResearchLogStream(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := getCurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("websocket upgrade failed for user %d: %v", uid, err)
			return
		}

		client := hub.Register(uid, ws)
		defer func() {
			hub.Unregister(client)
			_ = ws.Close()
		}()

		for {
			messageType, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(string(payload)), "ping") {
				if err := client.Send(realtime.NewEvent("pong", nil)); err != nil {
					return
				}
			}
		}
	}
}
