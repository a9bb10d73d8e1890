package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dischat/models"
	"dischat/realtime"
)

// world is an in-memory backend shared by several signed-in views.
type world struct {
	mu       sync.Mutex
	users    []models.User
	messages []models.Message
	nextID   int64
	now      time.Time
	hub      *realtime.Hub
}

func newWorld(t *testing.T) *world {
	t.Helper()
	logger := zerolog.Nop()
	w := &world{
		now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		hub: realtime.NewHub(64, &logger),
	}
	t.Cleanup(w.hub.Close)
	return w
}

func (w *world) addUser(id, name string) models.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	user := models.User{ID: id, FullName: name, Email: id + "@example.com"}
	w.users = append(w.users, user)
	return models.Identity{ID: id, Email: user.Email}
}

func (w *world) tick() time.Time {
	w.now = w.now.Add(time.Second)
	return w.now
}

// insert stores a message directly, bypassing any view.
func (w *world) insert(from, to, content string) models.Message {
	return w.insertClock(from, to, content, 0)
}

func (w *world) insertClock(from, to, content string, clock int64) models.Message {
	w.mu.Lock()
	w.nextID++
	msg := models.Message{
		ID:           w.nextID,
		SenderID:     from,
		ReceiverID:   to,
		Content:      content,
		SentTime:     w.tick(),
		LamportClock: clock,
	}
	w.messages = append(w.messages, msg)
	w.mu.Unlock()

	w.hub.Publish(msg)
	return msg
}

func (w *world) message(id int64) models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, msg := range w.messages {
		if msg.ID == id {
			return msg
		}
	}
	return models.Message{}
}

func (w *world) inbound(receiverID string) []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []models.Message
	for _, msg := range w.messages {
		if msg.ReceiverID == receiverID {
			out = append(out, msg)
		}
	}
	return out
}

// view is one user's capabilities against the world, with failure hooks.
type view struct {
	world *world
	self  models.Identity

	mu           sync.Mutex
	identityErr  error
	listErr      error
	convErr      error
	insertErr    error
	markErr      error
	subscribeErr error
	convGate     map[string]chan struct{}
	inserts      int
	markCalls    int
}

func (w *world) as(self models.Identity) *view {
	return &view{world: w, self: self, convGate: make(map[string]chan struct{})}
}

func (v *view) CurrentUser(context.Context) (models.Identity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.identityErr != nil {
		return models.Identity{}, v.identityErr
	}
	return v.self, nil
}

func (v *view) ListUsers(_ context.Context, excludeID string) ([]models.User, error) {
	v.mu.Lock()
	err := v.listErr
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	var out []models.User
	for _, user := range v.world.users {
		if user.ID != excludeID {
			out = append(out, user)
		}
	}
	return out, nil
}

func (v *view) InsertUser(_ context.Context, user models.User) (models.User, error) {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	v.world.users = append(v.world.users, user)
	return user, nil
}

func (v *view) Conversation(_ context.Context, peerID string) ([]models.Message, error) {
	v.mu.Lock()
	gate := v.convGate[peerID]
	err := v.convErr
	v.mu.Unlock()

	v.world.mu.Lock()
	var out []models.Message
	for _, msg := range v.world.messages {
		if msg.InConversation(v.self.ID, peerID) {
			out = append(out, msg)
		}
	}
	v.world.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SentTime.Equal(out[j].SentTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].SentTime.Before(out[j].SentTime)
	})

	// The gate holds the response after the rows were read.
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (v *view) InsertMessage(_ context.Context, msg models.NewMessage) (models.Message, error) {
	v.mu.Lock()
	v.inserts++
	err := v.insertErr
	v.mu.Unlock()
	if err != nil {
		return models.Message{}, err
	}

	return v.world.insertClock(v.self.ID, msg.ReceiverID, msg.Content, msg.LamportClock), nil
}

func (v *view) MarkReceived(context.Context) (int64, error) {
	return v.mark(func(msg *models.Message, at time.Time) bool {
		if msg.ReceivedTime != nil {
			return false
		}
		at = later(at, msg.SentTime)
		msg.ReceivedTime = &at
		return true
	})
}

func (v *view) MarkRead(context.Context) (int64, error) {
	return v.mark(func(msg *models.Message, at time.Time) bool {
		if msg.ReadTime != nil {
			return false
		}
		at = later(at, msg.SentTime)
		if msg.ReceivedTime == nil {
			received := at
			msg.ReceivedTime = &received
		}
		at = later(at, *msg.ReceivedTime)
		msg.ReadTime = &at
		return true
	})
}

func (v *view) mark(apply func(msg *models.Message, at time.Time) bool) (int64, error) {
	v.mu.Lock()
	v.markCalls++
	err := v.markErr
	v.mu.Unlock()
	if err != nil {
		return 0, err
	}

	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	at := v.world.tick()
	var n int64
	for i := range v.world.messages {
		msg := &v.world.messages[i]
		if msg.ReceiverID == v.self.ID && apply(msg, at) {
			n++
		}
	}
	return n, nil
}

func (v *view) Subscribe(context.Context) (realtime.Subscription, error) {
	v.mu.Lock()
	err := v.subscribeErr
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return v.world.hub.Subscribe()
}

func (v *view) set(fn func(v *view)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// harness is a controller plus a stream of its change notifications.
type harness struct {
	*Controller
	view    *view
	changes chan Change
}

func newHarness(t *testing.T, v *view) *harness {
	t.Helper()

	changes := make(chan Change, 256)
	logger := zerolog.Nop()
	ctrl, err := NewController(Options{
		Identity: v,
		Rows:     v,
		Feed:     v,
		Logger:   &logger,
		Now:      func() time.Time { return time.Unix(1000, 0) },
		OnChange: func(change Change) { changes <- change },
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	return &harness{Controller: ctrl, view: v, changes: changes}
}

func (h *harness) mount(t *testing.T) {
	t.Helper()
	if err := h.Mount(context.Background()); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
}

func (h *harness) open(t *testing.T, contactID string) {
	t.Helper()
	if err := h.SelectContact(context.Background(), contactID); err != nil {
		t.Fatalf("SelectContact(%q) error = %v", contactID, err)
	}
}

// waitFor consumes changes until match returns true.
func (h *harness) waitFor(t *testing.T, what string, match func(Change) bool) Change {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case change := <-h.changes:
			if match(change) {
				return change
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

// quiet asserts no change matching match arrives within a short window.
func (h *harness) quiet(t *testing.T, what string, match func(Change) bool) {
	t.Helper()
	timeout := time.After(150 * time.Millisecond)
	for {
		select {
		case change := <-h.changes:
			if match(change) {
				t.Fatalf("unexpected %s: %+v", what, change)
			}
		case <-timeout:
			return
		}
	}
}

func messageWithContent(content string) func(Change) bool {
	return func(change Change) bool {
		return change.Kind == ChangeMessage && change.Message.Content == content
	}
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Content
	}
	return out
}

var errBackendDown = errors.New("backend unavailable")
