// Package ticket holds the work-item model shared by the ticket client,
// the renderer, the handle store and the projection engine.
package ticket

import (
	"strconv"
	"time"
)

// WorkItem is a ticket as fetched from the ticketing backend.
// It is a read-only projection; nothing in ticketsync mutates it remotely.
type WorkItem struct {
	ID        int64
	Number    string
	Title     string
	State     string
	Priority  string
	Queue     string
	Owner     string
	Requester string
	CreatedAt time.Time
	Body      string
}

// Destination is a chat, optionally narrowed to a forum topic.
type Destination struct {
	ChatID  int64 `json:"chat_id"`
	TopicID int64 `json:"topic_id,omitempty"` // 0 = no topic
}

// String returns "<chat>" or "<chat>/<topic>".
func (d Destination) String() string {
	if d.TopicID == 0 {
		return strconv.FormatInt(d.ChatID, 10)
	}
	return strconv.FormatInt(d.ChatID, 10) + "/" + strconv.FormatInt(d.TopicID, 10)
}

// TrackedEntry records that an item has a live message at MessageID showing State.
type TrackedEntry struct {
	ItemID    int64     `json:"item_id"`
	Number    string    `json:"number,omitempty"`
	State     string    `json:"state"`
	MessageID int64     `json:"message_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
