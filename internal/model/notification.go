package model

import "time"

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case Pending, Processing, Completed, Failed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Pending:
		return next == Processing
	case Processing:
		return next == Completed || next == Failed
	}
	return false
}

type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type NotificationRequest struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Payload       Payload   `json:"payload"`
	Tokens        []string  `json:"tokens"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`

	ProcessStartTime *time.Time `json:"processStartTime,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	FailedAt         *time.Time `json:"failedAt,omitempty"`

	SuccessCount int    `json:"successCount"`
	FailureCount int    `json:"failureCount"`
	Error        string `json:"error,omitempty"`
}
