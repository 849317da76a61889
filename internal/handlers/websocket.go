package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Mayank77maruti/Meu-ChaT/internal/call"
	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/Mayank77maruti/Meu-ChaT/internal/signal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// CallGateway bridges browser peers onto the signal channel over WebSocket:
// every call record observed on the chat's channel is pushed down the socket,
// and every record the browser sends is written to the channel. The server is
// a relay; the negotiation itself runs in the connected clients.
type CallGateway struct {
	channel  signal.Channel
	endGrace time.Duration
	log      zerolog.Logger
}

func NewCallGateway(channel signal.Channel, endGrace time.Duration, logger zerolog.Logger) *CallGateway {
	return &CallGateway{channel: channel, endGrace: endGrace, log: logger}
}

// wsClient is one browser peer's connection to a chat's call channel.
type wsClient struct {
	userID string
	callID string
	conn   *websocket.Conn
	send   chan []byte
	gw     *CallGateway

	closeOnce   sync.Once
	unsubscribe func()
}

// Handle upgrades an authenticated participant's connection and attaches it
// to the chat's call channel.
func (g *CallGateway) Handle(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	uid := userID.(string)

	chat, err := lookupChat(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if !contains(chat.Participants, uid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this chat"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &wsClient{
		userID: uid,
		callID: call.CallIDForChat(chat.ID),
		conn:   conn,
		send:   make(chan []byte, 256),
		gw:     g,
	}

	// The subscription outlives the HTTP request once the socket is
	// hijacked, so it is not tied to the request context.
	unsub, err := g.channel.Subscribe(context.Background(), client.callID, client.forward)
	if err != nil {
		g.log.Error().Err(err).Str("call_id", client.callID).Msg("Failed to subscribe to call channel")
		conn.Close()
		return
	}
	client.unsubscribe = unsub

	SetOnline(uid)
	g.log.Info().Str("user_id", uid).Str("call_id", client.callID).Msg("Peer attached to call channel")

	go client.writePump()
	go client.readPump()
}

// forward pushes an observed channel record down the socket. The client does
// its own self-signal suppression via the record nonce, so its own writes are
// forwarded back like any other.
func (c *wsClient) forward(rec *models.CallRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		c.gw.log.Error().Err(err).Msg("Failed to marshal call record")
		return
	}
	select {
	case c.send <- data:
	default:
		c.gw.log.Warn().Str("user_id", c.userID).Msg("Dropping record, send buffer full")
	}
}

func (c *wsClient) readPump() {
	defer c.teardown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		// The live socket doubles as the presence heartbeat.
		SetOnline(c.userID)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gw.log.Warn().Err(err).Str("user_id", c.userID).Msg("WebSocket error")
			}
			return
		}

		var rec models.CallRecord
		if err := json.Unmarshal(message, &rec); err != nil {
			c.gw.log.Warn().Err(err).Str("user_id", c.userID).Msg("Failed to parse call record")
			continue
		}

		// The connection, not the payload, is authoritative for identity.
		rec.From = c.userID
		rec.CallID = c.callID
		if err := rec.Validate(); err != nil {
			c.gw.log.Warn().Err(err).Str("user_id", c.userID).Msg("Rejecting malformed call record")
			continue
		}

		ctx := context.Background()
		switch rec.Kind {
		case models.CallKindCandidate:
			err = c.gw.channel.WriteCandidate(ctx, c.callID, c.userID, &rec)
		case models.CallKindEnd:
			err = c.gw.channel.Write(ctx, c.callID, &rec)
			c.gw.channel.RemoveAfter(c.callID, c.gw.endGrace)
		default:
			err = c.gw.channel.Write(ctx, c.callID, &rec)
		}
		if err != nil {
			c.gw.log.Error().Err(err).Str("call_id", c.callID).Str("kind", string(rec.Kind)).Msg("Failed to relay call record")
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown runs once, no matter which pump dies first.
func (c *wsClient) teardown() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.conn.Close()
		ClearOnline(c.userID)
		c.gw.log.Info().Str("user_id", c.userID).Str("call_id", c.callID).Msg("Peer detached from call channel")
	})
}
