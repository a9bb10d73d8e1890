package models

import "time"

const (
	// StatusSent means the row exists but the receiver has not fetched it yet.
	StatusSent = "sent"
	// StatusDelivered means the receiver's client has fetched the row.
	StatusDelivered = "delivered"
	// StatusRead means the receiver's client has displayed the row.
	StatusRead = "read"
)

// Message is one directed chat event between two users.
type Message struct {
	ID           int64      `json:"id"`
	SenderID     string     `json:"sender_id"`
	ReceiverID   string     `json:"receiver_id"`
	Content      string     `json:"content"`
	SentTime     time.Time  `json:"sent_time"`
	ReceivedTime *time.Time `json:"received_time"`
	ReadTime     *time.Time `json:"read_time"`
	LamportClock int64      `json:"lamport_clock"`
}

// NewMessage is the insert payload for a message. The sender is the
// authenticated caller and the sent time is assigned by storage.
type NewMessage struct {
	ReceiverID   string `json:"receiver_id"`
	Content      string `json:"content"`
	LamportClock int64  `json:"lamport_clock"`
}

// Status derives the delivery status from the receipt timestamps.
func (m Message) Status() string {
	switch {
	case m.ReadTime != nil:
		return StatusRead
	case m.ReceivedTime != nil:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// InConversation reports whether m belongs to the unordered pair {a, b}.
func (m Message) InConversation(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
