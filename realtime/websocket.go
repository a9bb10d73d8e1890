package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dischat/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
	// maxClientFrame bounds frames read from subscribers; they only send control frames.
	maxClientFrame = 4096
)

// Authenticator resolves the identity behind a bearer token.
type Authenticator func(ctx context.Context, token string) (models.Identity, error)

// Handler upgrades authenticated requests to a websocket that streams every
// insert published on hub. The token is read from the Authorization header
// or, for browsers that cannot set headers, the access_token query value.
func Handler(hub *Hub, authenticate Authenticator, logger *zerolog.Logger) http.Handler {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	l = l.With().Str("component", "realtime").Logger()

	upgrader := websocket.Upgrader{
		CheckOrigin:      func(r *http.Request) bool { return true },
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		identity, err := authenticate(r.Context(), token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sub, err := hub.Subscribe()
		if err != nil {
			http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
			return
		}
		defer sub.Close()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		l.Debug().Str("user_id", identity.ID).Msg("feed subscriber connected")
		serveSubscriber(conn, sub, l)
		l.Debug().Str("user_id", identity.ID).Msg("feed subscriber disconnected")
	})
}

// BearerToken extracts the token from the Authorization header or the
// access_token query value.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func serveSubscriber(conn *websocket.Conn, sub Subscription, logger zerolog.Logger) {
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The read loop only services control frames and notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				reason := "feed closed"
				if err := <-sub.Errors(); err != nil {
					reason = err.Error()
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, reason))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Event{Type: EventInsert, Table: TableMessages, Record: msg}); err != nil {
				logger.Debug().Err(err).Msg("write feed event")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// wsSubscription is the client end of a websocket feed.
type wsSubscription struct {
	conn   *websocket.Conn
	events chan models.Message
	errs   chan error

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial opens a websocket feed subscription at url using token.
func Dial(ctx context.Context, url, token string) (Subscription, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed %q: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial feed %q: %w", url, err)
	}

	sub := &wsSubscription{
		conn:   conn,
		events: make(chan models.Message, DefaultBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		sub.writeMu.Lock()
		defer sub.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	sub.wg.Add(1)
	go sub.readLoop()
	return sub, nil
}

func (s *wsSubscription) Events() <-chan models.Message { return s.events }

func (s *wsSubscription) Errors() <-chan error { return s.errs }

// Close releases the feed. Safe to call more than once.
func (s *wsSubscription) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		closeErr = s.conn.Close()
		s.wg.Wait()
	})
	return closeErr
}

func (s *wsSubscription) readLoop() {
	defer s.wg.Done()
	defer close(s.events)
	defer close(s.errs)

	for {
		var event Event
		if err := s.conn.ReadJSON(&event); err != nil {
			select {
			case <-s.done:
			default:
				s.errs <- fmt.Errorf("read feed: %w", err)
			}
			return
		}
		if event.Type != EventInsert || event.Table != TableMessages {
			continue
		}
		select {
		case s.events <- event.Record:
		case <-s.done:
			return
		}
	}
}
