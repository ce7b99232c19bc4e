package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/gorilla/websocket"
)

const sendBuffer = 256

// Server relays one service.Channel to websocket clients. Clients pick a
// conversation with the "conversation" query parameter.
type Server struct {
	Channel    service.Channel
	Upgrader   websocket.Upgrader
	PingPeriod time.Duration
	PongWait   time.Duration
}

// NewServer returns a server relaying ch.
func NewServer(ch service.Channel) *Server {
	return &Server{
		Channel: ch,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		http.Error(w, "missing conversation", http.StatusBadRequest)
		return
	}
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := make(chan []byte, sendBuffer)
	sub, err := s.Channel.Subscribe(ctx, conversationID, service.HandlerFuncs{
		Event: func(ev types.Event) {
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			select {
			case send <- data:
			default:
				logger.Warn("push client too slow, dropping connection", "conversation", conversationID)
				cancel()
			}
		},
		Status: func(state types.ConnectionState, err error) {
			if state == types.ConnDisconnected {
				// Clients resync on reconnect, so a gap upstream ends the stream.
				cancel()
			}
		},
	})
	if err != nil {
		logger.Warn("push subscribe failed", "conversation", conversationID, "err", err)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(writeWait)) //nolint:errcheck
		return
	}
	defer sub.Close()

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, send)
}

// readPump keeps the read deadline fresh and ends the stream when the client
// goes away. Client messages are ignored.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	wait := s.PongWait
	if wait <= 0 {
		wait = pongWait
	}
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	period := s.PingPeriod
	if period <= 0 {
		period = pingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait)) //nolint:errcheck
			return
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
