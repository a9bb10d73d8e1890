// Package realtime fans out newly inserted message rows to every
// subscriber, in process and over websockets.
package realtime

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dischat/models"
)

const (
	// EventInsert is the only event type the feed carries.
	EventInsert = "INSERT"
	// TableMessages is the table whose inserts the feed carries.
	TableMessages = "messages"
	// DefaultBufferSize is the per-subscriber event buffer.
	DefaultBufferSize = 64
)

var (
	// ErrSlowSubscriber is delivered to a subscriber dropped for falling behind.
	ErrSlowSubscriber = errors.New("realtime: subscriber fell behind")
	// ErrClosed indicates the feed has been shut down.
	ErrClosed = errors.New("realtime: feed closed")
)

// Event is the feed frame for one inserted row.
type Event struct {
	Type   string         `json:"type"`
	Table  string         `json:"table"`
	Record models.Message `json:"record"`
}

// Subscription is a live handle on the insert feed. Events is closed when
// the subscription ends; a non-nil reason is sent on Errors first.
type Subscription interface {
	Events() <-chan models.Message
	Errors() <-chan error
	Close() error
}

// Hub delivers every published message to all current subscribers.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*hubSubscription]struct{}
	bufferSize int
	closed     bool
	logger     zerolog.Logger
}

type hubSubscription struct {
	hub    *Hub
	events chan models.Message
	errs   chan error
	once   sync.Once
}

// NewHub creates a hub. bufferSize <= 0 uses DefaultBufferSize.
func NewHub(bufferSize int, logger *zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Hub{
		subs:       make(map[*hubSubscription]struct{}),
		bufferSize: bufferSize,
		logger:     l.With().Str("component", "realtime").Logger(),
	}
}

// Subscribe registers a new subscriber for all future inserts.
func (h *Hub) Subscribe() (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &hubSubscription{
		hub:    h,
		events: make(chan models.Message, h.bufferSize),
		errs:   make(chan error, 1),
	}
	h.subs[sub] = struct{}{}
	return sub, nil
}

// Publish delivers msg to every subscriber without blocking. Subscribers
// whose buffer is full are dropped with ErrSlowSubscriber.
func (h *Hub) Publish(msg models.Message) {
	var slow []*hubSubscription

	h.mu.RLock()
	for sub := range h.subs {
		select {
		case sub.events <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn().Int64("message_id", msg.ID).Msg("dropping slow subscriber")
		h.remove(sub, ErrSlowSubscriber)
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription with ErrClosed and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*hubSubscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub, ErrClosed)
	}
}

func (h *Hub) remove(sub *hubSubscription, reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.finish(reason)
}

func (s *hubSubscription) Events() <-chan models.Message { return s.events }

func (s *hubSubscription) Errors() <-chan error { return s.errs }

func (s *hubSubscription) Close() error {
	s.hub.remove(s, nil)
	return nil
}

// finish must be called with the hub lock held.
func (s *hubSubscription) finish(reason error) {
	s.once.Do(func() {
		if reason != nil {
			s.errs <- reason
		}
		close(s.events)
		close(s.errs)
	})
}
