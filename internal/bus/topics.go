package bus

import "time"

// Task change topics. Every successful store mutation publishes one of these
// with a TaskEvent payload.
const (
	TopicTaskPrefix         = "task."
	TopicTaskCreated        = "task.created"
	TopicTaskUpdated        = "task.updated"
	TopicTaskDeleted        = "task.deleted"
	TopicTasksClearedFinish = "task.cleared_completed"
)

// Chat topics.
const (
	TopicChatReplied             = "chat.replied"
	TopicChatConfirmationPending = "chat.confirmation_pending"
)

// TaskEvent describes a change to one task, or to a batch for
// TopicTasksClearedFinish (TaskID empty, Count set).
type TaskEvent struct {
	OwnerID   string    `json:"owner_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Completed bool      `json:"completed"`
	Count     int       `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// ChatEvent is published after the facade answers a message.
type ChatEvent struct {
	OwnerID        string `json:"owner_id"`
	ConversationID string `json:"conversation_id"`
	Intent         string `json:"intent"`
	DemoMode       bool   `json:"demo_mode"`
}
