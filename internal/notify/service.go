// Package notify persists user notifications and optionally delivers them
// by email.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"bookrelay/api/internal/store"
)

// SMTPConfig holds SMTP configuration. An empty Host disables delivery.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type recorder interface {
	InsertNotification(ctx context.Context, notification store.Notification) error
}

// Service records notifications and, when SMTP is configured, mirrors each
// one to the recipient's email address.
type Service struct {
	store recorder
	smtp  SMTPConfig
	auth  smtp.Auth
}

func NewService(store recorder, cfg SMTPConfig) *Service {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &Service{store: store, smtp: cfg, auth: auth}
}

func (s *Service) emailConfigured() bool {
	return s.smtp.Host != "" && s.smtp.Port != "" && s.smtp.From != ""
}

// Notify persists a notification for the user. Email delivery is best
// effort and never fails the call; the stored record is the source of
// truth.
func (s *Service) Notify(ctx context.Context, user store.User, title, content string) error {
	if err := s.store.InsertNotification(ctx, store.Notification{
		UserID:  user.ID,
		Title:   title,
		Content: content,
	}); err != nil {
		return fmt.Errorf("record notification: %w", err)
	}

	if s.emailConfigured() && user.Email != "" {
		go func(to, subject, body string) {
			if err := s.sendEmail([]string{to}, subject, body); err != nil {
				log.Printf("notify: email to %s failed: %v", to, err)
			}
		}(user.Email, title, content)
	}
	return nil
}

func (s *Service) sendEmail(to []string, subject, body string) error {
	from := s.smtp.From
	if s.smtp.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.smtp.FromName, s.smtp.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.smtp.Host+":"+s.smtp.Port, s.auth, s.smtp.From, to, msg)
}
