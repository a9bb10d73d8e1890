package chat

import "dischat/models"

// timeline is the open conversation, kept in display order and keyed by
// message id so that rows seen twice are applied once.
type timeline struct {
	rows  []models.Message
	index map[int64]int
}

func newTimeline() *timeline {
	return &timeline{index: make(map[int64]int)}
}

// upsert replaces the row with msg.ID in place, or appends msg. It reports
// whether msg was new.
func (t *timeline) upsert(msg models.Message) bool {
	if pos, ok := t.index[msg.ID]; ok {
		t.rows[pos] = msg
		return false
	}
	t.index[msg.ID] = len(t.rows)
	t.rows = append(t.rows, msg)
	return true
}

// reset replaces the contents with history, then re-applies any current
// row history does not contain.
func (t *timeline) reset(history []models.Message) {
	live := t.rows

	t.rows = make([]models.Message, 0, len(history)+len(live))
	t.index = make(map[int64]int, len(history)+len(live))
	for _, msg := range history {
		t.upsert(msg)
	}
	for _, msg := range live {
		if _, ok := t.index[msg.ID]; !ok {
			t.upsert(msg)
		}
	}
}

func (t *timeline) clear() {
	t.rows = nil
	t.index = make(map[int64]int)
}

func (t *timeline) snapshot() []models.Message {
	out := make([]models.Message, len(t.rows))
	copy(out, t.rows)
	return out
}
