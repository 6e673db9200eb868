package domain

import (
	"context"
	"time"
)

// Notifier sends chat messages through the gateway and waits for the
// gateway to answer.
type Notifier interface {
	SendGroup(ctx context.Context, groupID, message string) error
	SendAt(ctx context.Context, groupID, userID, message string) error
	SendPrivate(ctx context.Context, userID, message string) error
}

// Broadcaster sends a message to many groups without waiting for the gateway.
type Broadcaster interface {
	Broadcast(groupIDs []string, message string)
}

// ContentEventType distinguishes content lifecycle events.
type ContentEventType string

const (
	EventPostTransition ContentEventType = "post_transition"
	EventComment        ContentEventType = "comment"
)

// ContentEvent is emitted by the host site when content changes.
type ContentEvent struct {
	Type      ContentEventType `json:"type"`
	Post      Post             `json:"post"`
	OldStatus string           `json:"old_status,omitempty"`
	NewStatus string           `json:"new_status,omitempty"`
	Comment   *Comment         `json:"comment,omitempty"`
}

// Comment is a reader comment on a post.
type Comment struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// EventBus carries content events from the event source to the notifier.
type EventBus interface {
	Publish(ev ContentEvent)
	Subscribe() <-chan ContentEvent
	Close()
}

