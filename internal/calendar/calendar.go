// Package calendar schedules follow-up events on Google Calendar for
// emails that ask for a meeting.
package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Config holds the Google OAuth credential for the calendar account.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Scheduler creates events on the account's primary calendar.
type Scheduler struct {
	service *calendarapi.Service
}

// New builds a calendar service from a refresh-token credential.
func New(ctx context.Context, cfg Config) (*Scheduler, error) {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := calendarapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	return &Scheduler{service: svc}, nil
}

// ScheduleFollowUp inserts a 30-minute event starting at the next full
// hour at least a day out, titled after the email subject. Returns the
// event's HTML link.
func (s *Scheduler) ScheduleFollowUp(
	ctx context.Context,
	subject, sender string,
) (string, error) {
	start := time.Now().Add(24 * time.Hour).Truncate(time.Hour).Add(time.Hour)
	end := start.Add(30 * time.Minute)

	event := &calendarapi.Event{
		Summary:     "Follow up: " + subject,
		Description: fmt.Sprintf("Scheduled from email by %s", sender),
		Start: &calendarapi.EventDateTime{
			DateTime: start.Format(time.RFC3339),
		},
		End: &calendarapi.EventDateTime{
			DateTime: end.Format(time.RFC3339),
		},
	}

	created, err := s.service.Events.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("inserting calendar event: %w", err)
	}

	return created.HtmlLink, nil
}
