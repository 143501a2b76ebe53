package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/auth"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/events"
)

const wsWriteTimeout = 5 * time.Second

// wsPeer is one open socket. Events for a user may arrive from several
// subscriber goroutines at once, so writes are serialized per peer.
type wsPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *wsPeer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub pushes transition events to the connected parties they name.
type WSHub struct {
	cfg        *config.Config
	subscriber events.Subscriber
	log        *zap.Logger

	mu    sync.RWMutex
	peers map[uuid.UUID][]*wsPeer
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:        cfg,
		subscriber: subscriber,
		log:        log,
		peers:      make(map[uuid.UUID][]*wsPeer),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	for _, stream := range []string{events.StreamEngagement, events.StreamSearchJob, events.StreamEscrow} {
		if err := h.subscriber.Subscribe(ctx, stream, h.route); err != nil {
			h.log.Error("ws hub subscribe failed", zap.String("stream", stream), zap.Error(err))
		}
	}
}

func (h *WSHub) route(event events.Event) {
	for _, r := range events.Recipients(event) {
		if id, err := uuid.Parse(r); err == nil {
			h.SendToUser(id, event)
		}
	}
}

// SendToUser writes event to every socket userID has open. A peer whose write
// fails is left for its read loop to reap.
func (h *WSHub) SendToUser(userID uuid.UUID, event events.Event) {
	h.mu.RLock()
	peers := append([]*wsPeer(nil), h.peers[userID]...)
	h.mu.RUnlock()
	if len(peers) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("ws event marshal failed", zap.String("type", event.Type), zap.Error(err))
		return
	}
	for _, p := range peers {
		if err := p.write(data); err != nil {
			h.log.Debug("ws write failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	defer conn.Close()

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, conn.Query("token"))
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid or missing token","code":"unauthorized"}`))
		return
	}

	peer := &wsPeer{conn: conn}
	h.attach(claims.UserID, peer)
	defer h.detach(claims.UserID, peer)

	// Clients never send anything meaningful; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) attach(userID uuid.UUID, p *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[userID] = append(h.peers[userID], p)
}

func (h *WSHub) detach(userID uuid.UUID, p *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.peers[userID]
	for i, q := range peers {
		if q == p {
			peers = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(peers) == 0 {
		delete(h.peers, userID)
		return
	}
	h.peers[userID] = peers
}
