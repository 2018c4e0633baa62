package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/watchparty/pkg/models"
)

// The page socket can read the logged-in session, so only same-origin clients may upgrade.
var upgrader = websocket.Upgrader{}

// StatusSource exposes the shared browser's current debug target.
type StatusSource interface {
	Status() models.SessionStatus
}

// Server proxies a devtools client to the page the session is sharing.
type Server struct {
	session     StatusSource
	dialTimeout time.Duration
	logger      *zap.Logger
}

func NewServer(session StatusSource, logger *zap.Logger) *Server {
	return &Server{
		session:     session,
		dialTimeout: 10 * time.Second,
		logger:      logger.Named("proxy"),
	}
}

func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !sameOrigin(r) {
		http.Error(w, "cross-origin debug connections are not allowed", http.StatusForbidden)
		return
	}

	status := s.session.Status()
	if status.DebugURL == "" {
		http.Error(w, "no browser page to debug", http.StatusConflict)
		return
	}

	// Dial the page first so a dead target is reported as a plain HTTP error.
	ctx, cancel := context.WithTimeout(r.Context(), s.dialTimeout)
	defer cancel()

	pageConn, _, err := websocket.DefaultDialer.DialContext(ctx, status.DebugURL, nil)
	if err != nil {
		s.logger.Warn("failed to connect to browser page", zap.String("target", status.DebugURL), zap.Error(err))
		http.Error(w, "failed to connect to browser page", http.StatusBadGateway)
		return
	}
	defer pageConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer clientConn.Close()

	logger := s.logger.With(zap.String("state", string(status.State)), zap.String("tab", status.VideoTab))
	logger.Info("debug client connected")

	errChan := make(chan error, 2)
	go func() {
		errChan <- proxyMessages(clientConn, pageConn)
	}()
	go func() {
		errChan <- proxyMessages(pageConn, clientConn)
	}()

	err = <-errChan
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
		logger.Debug("debug proxy closed", zap.Error(err))
	}
	logger.Info("debug client disconnected")
}

func proxyMessages(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}

// sameOrigin accepts requests without an Origin header (non-browser clients) and
// requests whose Origin host matches the Host header.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
