package reminder

import "time"

// Event types published on the bus.
const (
	EventCreated   = "reminder.created"
	EventCanceled  = "reminder.canceled"
	EventDelivered = "reminder.delivered"
	EventSkipped   = "reminder.skipped"
	EventRearmed   = "reminder.rearmed"
)

type EventData struct {
	ID      int64     `json:"id"`
	User    string    `json:"user"`
	Message string    `json:"message"`
	FireAt  time.Time `json:"fire_at"`
}
