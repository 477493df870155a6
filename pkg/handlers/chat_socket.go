package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/chat"
)

const (
	chatWriteWait      = 10 * time.Second
	chatPongWait       = 60 * time.Second
	chatPingPeriod     = (chatPongWait * 9) / 10
	chatMaxMessageSize = 64 * 1024
)

// ChatResponder answers chat messages. *chat.Handler satisfies it.
type ChatResponder interface {
	Handle(ctx context.Context, msg chat.Message) (chat.Reply, bool)
}

// ChatSocketHandler serves the chat front end over a websocket. Each text
// frame is a JSON chat.Message and each reply is a JSON chat.Reply.
type ChatSocketHandler struct {
	responder ChatResponder
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewChatSocketHandler creates a chat socket handler. allowedOrigins lists
// the Origin values accepted on upgrade; empty accepts any origin.
func NewChatSocketHandler(responder ChatResponder, allowedOrigins []string, logger *zap.Logger) *ChatSocketHandler {
	return &ChatSocketHandler{
		responder: responder,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(allowedOrigins),
		},
		logger: logger.Named("chat"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers /chat. wrap, when non-nil, is applied before
// the upgrade (authentication, request logging).
func (h *ChatSocketHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	var handler http.Handler = allowMethods(h, http.MethodGet)
	if wrap != nil {
		handler = wrap(handler)
	}
	mux.Handle("/chat", handler)
}

func (h *ChatSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Chat websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	s := &chatSession{
		conn:   conn,
		userID: auth.UserIDFromContext(r.Context()),
		logger: h.logger,
	}
	defer func() {
		cancel()
		s.close()
	}()

	conn.SetReadLimit(chatMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(chatPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(chatPongWait))
	})

	go s.pingLoop(ctx)
	s.readLoop(ctx, h.responder)
}

// chatSession is one websocket connection. Writes are serialized with mu
// since the ping loop and the reply path share the connection.
type chatSession struct {
	conn   *websocket.Conn
	userID string // from bearer claims; overrides the message's user_id
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (s *chatSession) readLoop(ctx context.Context, responder ChatResponder) {
	for {
		var msg chat.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Chat websocket read error", zap.Error(err))
			}
			return
		}
		if s.userID != "" {
			msg.UserID = s.userID
		}
		if msg.UserID == "" {
			msg.UserID = "anonymous"
		}

		reply, _ := responder.Handle(ctx, msg)
		if err := s.write(reply); err != nil {
			s.logger.Warn("Chat websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *chatSession) write(reply chat.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
	return s.conn.WriteJSON(reply)
}

func (s *chatSession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(chatPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(chatWriteWait))
			s.mu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *chatSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(chatWriteWait))
	_ = s.conn.Close()
}
