package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"bookrelay/api/internal/rbac"
	"bookrelay/api/internal/search"
	"bookrelay/api/internal/store"
)

const (
	classifyRecentActivity = "by recent activity"
	classifyMessageCount   = "by number of messages"
)

func (s *Service) CreateThread(ctx context.Context, session Session, bookID, title string) (map[string]any, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Book not found")
		}
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, errInvalidInput("Title is required")
	}

	thread, err := s.store.InsertThread(ctx, store.Thread{
		BookTitle: book.Title,
		Username:  session.Username,
		Title:     title,
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexThread(search.ThreadRecord{
			ID:        thread.ID,
			BookTitle: thread.BookTitle,
			Title:     thread.Title,
			Username:  thread.Username,
		})
	}

	return map[string]any{
		"id":        thread.ID,
		"bookTitle": thread.BookTitle,
		"username":  thread.Username,
		"title":     thread.Title,
		"timestamp": thread.CreatedAt,
		"messages":  []any{},
	}, nil
}

// AddThreadMessage appends a message to a thread. A reply must reference an
// existing message in the same thread; this is checked before anything is
// written. When the reply targets another author, that author is notified
// after the message is persisted.
func (s *Service) AddThreadMessage(ctx context.Context, session Session, threadID, content, respondsTo string) (string, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errNotFound("Thread not found")
		}
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", errInvalidInput("Content is required")
	}

	var parent store.Message
	if respondsTo != "" {
		parent, err = s.store.GetMessage(ctx, threadID, respondsTo)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", errNotFound("Parent message not found")
			}
			return "", err
		}
	}

	message, err := s.store.AppendMessage(ctx, store.Message{
		ThreadID:   threadID,
		Username:   session.Username,
		Content:    content,
		RespondsTo: respondsTo,
	})
	if err != nil {
		return "", err
	}

	if respondsTo != "" && parent.Username != session.Username {
		parentUser, err := s.store.GetUserByUsername(ctx, parent.Username)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", errNotFound("User not found")
			}
			return "", err
		}
		if s.notify != nil {
			title := parentUser.Username + " in " + thread.Title
			if err := s.notify.Notify(ctx, parentUser, title, parent.Content); err != nil {
				return "", err
			}
		}
	}

	return message.ID, nil
}

// ToggleMessageReaction flips the caller's (username, icon) reaction on a
// message. It returns the created reaction after an add and nil after a
// removal.
func (s *Service) ToggleMessageReaction(ctx context.Context, session Session, threadID, messageID, reactIcon string) (*store.Reaction, error) {
	if strings.TrimSpace(reactIcon) == "" {
		return nil, errInvalidInput("React icon is required")
	}
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Thread not found")
		}
		return nil, err
	}
	message, err := s.store.GetMessage(ctx, threadID, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Message not found")
		}
		return nil, err
	}

	removed, err := s.store.DeleteReactionPair(ctx, message.ID, session.Username, reactIcon)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		return nil, nil
	}

	reaction, err := s.store.InsertReaction(ctx, store.Reaction{
		MessageID: message.ID,
		Username:  session.Username,
		ReactIcon: reactIcon,
	})
	if err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (s *Service) GetThread(ctx context.Context, threadID string) (map[string]any, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Thread not found")
		}
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return threadPayload(thread, messages), nil
}

// SearchThreads filters and orders the thread list. A non-empty query runs
// through the search index first, then the hits are re-checked with a
// case-insensitive substring match on book title, thread title and creator.
func (s *Service) SearchThreads(ctx context.Context, query, classify string, ascending bool) ([]map[string]any, error) {
	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query != "" {
		if s.search != nil {
			hits := s.search.Search(search.Query{
				Text:       query,
				FilterType: search.ResultThread,
				Limit:      len(threads) + 1,
			})
			hitIDs := make(map[string]bool, len(hits.Results))
			for _, hit := range hits.Results {
				hitIDs[hit.ID] = true
			}
			kept := threads[:0]
			for _, thread := range threads {
				if hitIDs[thread.ID] {
					kept = append(kept, thread)
				}
			}
			threads = kept
		}
		kept := threads[:0]
		for _, thread := range threads {
			if matchThread(thread, query) {
				kept = append(kept, thread)
			}
		}
		threads = kept
	}

	if classify == "" {
		classify = classifyRecentActivity
	}
	switch classify {
	case classifyMessageCount:
		sort.SliceStable(threads, func(i, j int) bool {
			if ascending {
				return threads[i].MessageCount < threads[j].MessageCount
			}
			return threads[i].MessageCount > threads[j].MessageCount
		})
	case classifyRecentActivity:
		sort.SliceStable(threads, func(i, j int) bool {
			if ascending {
				return threads[i].LastMessageAt.Before(threads[j].LastMessageAt)
			}
			return threads[i].LastMessageAt.After(threads[j].LastMessageAt)
		})
	}

	items := make([]map[string]any, 0, len(threads))
	for _, thread := range threads {
		messages, err := s.store.ListMessages(ctx, thread.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, threadPayload(thread, messages))
	}
	return items, nil
}

func (s *Service) ClearThreads(ctx context.Context, session Session) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden()
	}
	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		return err
	}
	if err := s.store.ClearThreads(ctx); err != nil {
		return err
	}
	if s.search != nil {
		for _, thread := range threads {
			s.search.DeleteThread(thread.ID)
		}
	}
	return nil
}

// SearchAll runs a raw query across the book and thread indexes.
func (s *Service) SearchAll(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func matchThread(thread store.Thread, query string) bool {
	needle := strings.ToLower(query)
	return strings.Contains(strings.ToLower(thread.BookTitle), needle) ||
		strings.Contains(strings.ToLower(thread.Title), needle) ||
		strings.Contains(strings.ToLower(thread.Username), needle)
}

func threadPayload(thread store.Thread, messages []store.Message) map[string]any {
	messageItems := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		reactions := make([]map[string]any, 0, len(message.Reactions))
		for _, reaction := range message.Reactions {
			reactions = append(reactions, map[string]any{
				"id":        reaction.ID,
				"username":  reaction.Username,
				"reactIcon": reaction.ReactIcon,
				"timestamp": reaction.CreatedAt,
			})
		}
		item := map[string]any{
			"id":        message.ID,
			"seq":       message.Seq,
			"username":  message.Username,
			"content":   message.Content,
			"timestamp": message.Timestamp,
			"reactions": reactions,
		}
		if message.RespondsTo != "" {
			item["respondsTo"] = message.RespondsTo
		}
		messageItems = append(messageItems, item)
	}
	return map[string]any{
		"id":        thread.ID,
		"bookTitle": thread.BookTitle,
		"username":  thread.Username,
		"title":     thread.Title,
		"timestamp": thread.CreatedAt,
		"messages":  messageItems,
	}
}
