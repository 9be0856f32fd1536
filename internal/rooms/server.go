package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sheerbytes/quicshare/internal/config"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/pkg/protocol"
)

const (
	wsIdleTimeout   = 2 * time.Minute
	wsWriteTimeout  = 10 * time.Second
	janitorInterval = time.Minute
)

// Server is the signaling HTTP server.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	store    *Store
	hub      *Hub
	limiter  *IPLimiter
	expiry   *expiryManager
	upgrader websocket.Upgrader
}

// NewServer builds a server from cfg.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logging.OrDiscard(logger).With("component", "rooms"),
		store:   NewStore(cfg.RoomTTL),
		hub:     NewHub(),
		limiter: NewIPLimiter(cfg.ConnectRate, cfg.ConnectBurst),
		expiry:  newExpiryManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(protocol.RoomsPath, s.handleRooms)
	return mux
}

// ListenAndServe serves on cfg.Addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.janitor(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("signaling server listening", "addr", s.cfg.Addr, "room_ttl", s.cfg.RoomTTL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.store.CleanupExpired(now); n > 0 {
				s.logger.Debug("expired rooms removed", "count", n)
			}
			s.limiter.Prune(10 * janitorInterval)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "rooms": s.store.Count()})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != protocol.RoleServer && role != protocol.RoleClient {
		sendError(w, http.StatusBadRequest, "role must be 'server' or 'client'")
		return
	}

	ip := clientIP(r)
	if !s.limiter.Allow(ip) {
		sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var room Room
	if role == protocol.RoleClient {
		var ok bool
		room, ok = s.store.Get(r.URL.Query().Get("room_id"))
		if !ok {
			sendError(w, http.StatusNotFound, protocol.ReasonRoomNotFound)
			return
		}
		if len(s.hub.Members(room.ID)) != 1 {
			sendError(w, http.StatusConflict, protocol.ReasonRoomFull)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	var writeMu sync.Mutex
	conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout))
	})

	send := func(msg protocol.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg)
	}
	closeWith := func(reason string) {
		writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		writeMu.Unlock()
		_ = conn.Close()
	}

	if role == protocol.RoleServer {
		room = s.store.Create()
		s.expiry.schedule(room.ID, s.cfg.RoomTTL, func() {
			s.logger.Info("room expired", "room", room.ID)
			s.hub.Close(room.ID, protocol.ReasonRoomExpired)
			s.store.Delete(room.ID)
		})
	}

	member := Member{ConnID: uuid.NewString(), Role: role, RemoteIP: ip}
	logger := s.logger.With("room", room.ID, "role", role, "conn_id", member.ConnID)

	leave, err := s.hub.Join(room.ID, member, send, closeWith)
	if err != nil {
		logger.Warn("join refused", "error", err)
		closeWith(protocol.ReasonRoomFull)
		return
	}
	logger.Info("member joined", "remote_ip", ip)

	defer func() {
		leave()
		s.hub.CloseExcept(room.ID, member.ConnID, protocol.ReasonPeerLeft)
		s.expiry.cancel(room.ID)
		s.store.Delete(room.ID)
		logger.Info("member left, room closed")
	}()

	if role == protocol.RoleServer {
		info, err := protocol.NewRoomInfoMessage(room.Info(time.Now()))
		if err != nil {
			logger.Error("encode room info", "error", err)
			return
		}
		if !s.hub.SendTo(room.ID, protocol.RoleServer, info) {
			logger.Error("queue room info failed")
			return
		}
	}

	// Only offers travel client to server and only answers server to client.
	allowed := protocol.TypeOffer
	if role == protocol.RoleServer {
		allowed = protocol.TypeAnswer
	}

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Info("websocket idle timeout")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			logger.Warn("invalid signaling message", "error", err)
			continue
		}
		if msg.Type != allowed {
			logger.Warn("dropping message not allowed for role", "type", msg.Type)
			continue
		}
		if !s.hub.Relay(room.ID, role, msg) {
			logger.Warn("no peer to relay to", "type", msg.Type)
			continue
		}
		logger.Debug("relayed", "type", msg.Type)
	}
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type expiryManager struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newExpiryManager() *expiryManager {
	return &expiryManager{timers: make(map[string]*time.Timer)}
}

func (m *expiryManager) schedule(roomID string, ttl time.Duration, fn func()) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.timers[roomID]; existing != nil {
		existing.Stop()
	}
	m.timers[roomID] = time.AfterFunc(ttl, func() {
		fn()
		m.mu.Lock()
		delete(m.timers, roomID)
		m.mu.Unlock()
	})
}

func (m *expiryManager) cancel(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer := m.timers[roomID]; timer != nil {
		timer.Stop()
		delete(m.timers, roomID)
	}
}
