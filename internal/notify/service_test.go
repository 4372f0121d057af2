package notify

import (
	"context"
	"errors"
	"testing"

	"bookrelay/api/internal/store"
)

type fakeRecorder struct {
	inserted []store.Notification
	err      error
}

func (f *fakeRecorder) InsertNotification(_ context.Context, n store.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, n)
	return nil
}

func TestNotifyPersistsRecord(t *testing.T) {
	recorder := &fakeRecorder{}
	service := NewService(recorder, SMTPConfig{})

	user := store.User{ID: "usr_1", Username: "lena", Email: "lena@example.com"}
	err := service.Notify(context.Background(), user, "lena in Dune", "Loved the ending")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(recorder.inserted) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(recorder.inserted))
	}
	got := recorder.inserted[0]
	if got.UserID != "usr_1" || got.Title != "lena in Dune" || got.Content != "Loved the ending" {
		t.Fatalf("unexpected notification: %+v", got)
	}
}

func TestNotifyFailsWhenStoreFails(t *testing.T) {
	recorder := &fakeRecorder{err: errors.New("boom")}
	service := NewService(recorder, SMTPConfig{})

	err := service.Notify(context.Background(), store.User{ID: "usr_1"}, "t", "c")
	if err == nil {
		t.Fatal("expected error when store insert fails")
	}
}

func TestEmailConfigured(t *testing.T) {
	unconfigured := NewService(&fakeRecorder{}, SMTPConfig{})
	if unconfigured.emailConfigured() {
		t.Fatal("empty SMTP config should disable email")
	}

	configured := NewService(&fakeRecorder{}, SMTPConfig{
		Host: "smtp.example.com",
		Port: "587",
		From: "noreply@example.com",
	})
	if !configured.emailConfigured() {
		t.Fatal("full SMTP config should enable email")
	}
}
