package bus

import "time"

// Activity topics. Every topic shares the TopicActivity prefix so a single
// subscription can follow a user's whole feed.
const (
	TopicActivity = "activity."

	TopicUserRegistered   = "activity.user.registered"
	TopicCardSelected     = "activity.card.selected"
	TopicProductSelected  = "activity.product.selected"
	TopicTaskGrind        = "activity.task.grind"
	TopicTaskCompleted    = "activity.task.completed"
	TopicTaskReopened     = "activity.task.reopened"
	TopicTaskOverdue      = "activity.task.overdue"
	TopicWolfConnected    = "activity.wolfpack.connected"
	TopicWolfDisconnected = "activity.wolfpack.disconnected"
	TopicWolfRated        = "activity.wolf.rated"
)

// ActivityEvent mirrors an entry appended to a user's events feed.
type ActivityEvent struct {
	UserID  string    `json:"userId"`
	EventID string    `json:"id"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	TaskID  string    `json:"taskId,omitempty"`
	Delta   int       `json:"delta,omitempty"`
	At      time.Time `json:"at"`
}

// TopicForEventType maps a feed event type (e.g. "task_completed") to its
// bus topic. Unknown types fall under the bare activity prefix.
func TopicForEventType(eventType string) string {
	switch eventType {
	case "user_registered":
		return TopicUserRegistered
	case "card_selected":
		return TopicCardSelected
	case "product_selected":
		return TopicProductSelected
	case "task_grind":
		return TopicTaskGrind
	case "task_completed":
		return TopicTaskCompleted
	case "task_reopened":
		return TopicTaskReopened
	case "task_overdue":
		return TopicTaskOverdue
	case "wolf_connected":
		return TopicWolfConnected
	case "wolf_disconnected":
		return TopicWolfDisconnected
	case "wolf_rated":
		return TopicWolfRated
	default:
		return TopicActivity + eventType
	}
}
