package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertThread(ctx context.Context, thread Thread) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO threads (book_title, username, title)
		VALUES ($1, $2, $3)
		RETURNING id, book_title, username, title, created_at
	`, thread.BookTitle, thread.Username, thread.Title)
	var created Thread
	if err := row.Scan(&created.ID, &created.BookTitle, &created.Username, &created.Title, &created.CreatedAt); err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var thread Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_title, username, title, created_at FROM threads WHERE id=$1
	`, threadID).Scan(&thread.ID, &thread.BookTitle, &thread.Username, &thread.Title, &thread.CreatedAt)
	if err != nil {
		return Thread{}, err
	}
	return thread, nil
}

// ListThreads returns all threads with their message count and last-message
// timestamp aggregates. Threads without messages carry the epoch sentinel.
func (s *PostgresStore) ListThreads(ctx context.Context) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.book_title, t.username, t.title, t.created_at,
			COUNT(m.id),
			COALESCE(MAX(m.created_at), 'epoch'::timestamptz)
		FROM threads t
		LEFT JOIN messages m ON m.thread_id = t.id
		GROUP BY t.id
		ORDER BY t.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]Thread, 0)
	for rows.Next() {
		var item Thread
		if err := rows.Scan(&item.ID, &item.BookTitle, &item.Username, &item.Title, &item.CreatedAt,
			&item.MessageCount, &item.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

// AppendMessage inserts a message with the next per-thread sequence number.
// The thread row is locked for the duration of the transaction so two
// concurrent appends serialize instead of racing on the sequence.
func (s *PostgresStore) AppendMessage(ctx context.Context, message Message) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var threadID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM threads WHERE id=$1 FOR UPDATE`, message.ThreadID).Scan(&threadID)
	if err != nil {
		return Message{}, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO messages (thread_id, seq, username, content, responds_to)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, NULLIF($4, '')
		FROM messages WHERE thread_id = $1
		RETURNING id, thread_id, seq, username, content, COALESCE(responds_to, ''), created_at
	`, message.ThreadID, message.Username, message.Content, message.RespondsTo)
	var created Message
	if err := row.Scan(&created.ID, &created.ThreadID, &created.Seq, &created.Username, &created.Content, &created.RespondsTo, &created.Timestamp); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit append message: %w", err)
	}
	return created, nil
}

// GetMessage loads one message of a thread, reactions included.
func (s *PostgresStore) GetMessage(ctx context.Context, threadID, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, seq, username, content, COALESCE(responds_to, ''), created_at
		FROM messages
		WHERE thread_id=$1 AND id=$2
	`, threadID, messageID)
	var message Message
	err := row.Scan(&message.ID, &message.ThreadID, &message.Seq, &message.Username, &message.Content, &message.RespondsTo, &message.Timestamp)
	if err != nil {
		return Message{}, err
	}
	reactions, err := s.ListReactions(ctx, message.ID)
	if err != nil {
		return Message{}, err
	}
	message.Reactions = reactions
	return message, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, seq, username, content, COALESCE(responds_to, ''), created_at
		FROM messages
		WHERE thread_id=$1
		ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.Seq, &item.Username, &item.Content, &item.RespondsTo, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i := range items {
		reactions, err := s.ListReactions(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Reactions = reactions
	}
	return items, nil
}

func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, username, react_icon, created_at
		FROM reactions
		WHERE message_id=$1
		ORDER BY id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var item Reaction
		if err := rows.Scan(&item.ID, &item.MessageID, &item.Username, &item.ReactIcon, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertReaction(ctx context.Context, reaction Reaction) (Reaction, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reactions (message_id, username, react_icon)
		VALUES ($1, $2, $3)
		RETURNING id, message_id, username, react_icon, created_at
	`, reaction.MessageID, reaction.Username, reaction.ReactIcon)
	var created Reaction
	if err := row.Scan(&created.ID, &created.MessageID, &created.Username, &created.ReactIcon, &created.CreatedAt); err != nil {
		return Reaction{}, fmt.Errorf("insert reaction: %w", err)
	}
	return created, nil
}

// DeleteReactionPair removes every reaction matching (username, icon) on the
// message. More than one row can exist if older writes raced; all go.
func (s *PostgresStore) DeleteReactionPair(ctx context.Context, messageID, username, reactIcon string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id=$1 AND username=$2 AND react_icon=$3
	`, messageID, username, reactIcon)
	if err != nil {
		return 0, fmt.Errorf("delete reaction pair: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) ClearThreads(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads`); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}
	return nil
}
