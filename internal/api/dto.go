package api

import (
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/service"
)

type createNotificationRequest struct {
	UserID        string            `json:"userId" validate:"required,max=128"`
	Title         string            `json:"title" validate:"required,max=256"`
	Body          string            `json:"body" validate:"required,max=4096"`
	ScheduledTime string            `json:"scheduledTime" validate:"omitempty,rfc3339"`
	Data          map[string]string `json:"data" validate:"omitempty,max=32,dive,keys,required,max=64,endkeys,max=1024"`
}

// toSubmission expects a validated request.
func (r createNotificationRequest) toSubmission() (service.Submission, error) {
	s := service.Submission{
		UserID: r.UserID,
		Title:  r.Title,
		Body:   r.Body,
		Data:   r.Data,
	}
	if r.ScheduledTime != "" {
		at, err := time.Parse(time.RFC3339, r.ScheduledTime)
		if err != nil {
			return service.Submission{}, &service.ValidationError{Field: "scheduledTime", Reason: "must be RFC3339"}
		}
		s.ScheduledTime = &at
	}
	return s, nil
}

type deviceRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
	Token  string `json:"token" validate:"required,max=4096"`
}
