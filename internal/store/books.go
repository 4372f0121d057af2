package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const bookColumns = `id, isbn, title, authors_json::text, description, cover_image, publisher, parution_year, pages, categories_json::text, COALESCE(bookbox_id, ''), date_last_action`

func scanBook(row interface{ Scan(...any) error }) (Book, error) {
	var book Book
	var authorsRaw, categoriesRaw []byte
	err := row.Scan(&book.ID, &book.ISBN, &book.Title, &authorsRaw, &book.Description, &book.CoverImage,
		&book.Publisher, &book.ParutionYear, &book.Pages, &categoriesRaw, &book.BookBoxID, &book.DateLastAction)
	if err != nil {
		return Book{}, err
	}
	_ = json.Unmarshal(authorsRaw, &book.Authors)
	_ = json.Unmarshal(categoriesRaw, &book.Categories)
	return book, nil
}

func (s *PostgresStore) InsertBook(ctx context.Context, book Book) (Book, error) {
	authors, _ := json.Marshal(emptyIfNil(book.Authors))
	categories, _ := json.Marshal(emptyIfNil(book.Categories))
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO books (isbn, title, authors_json, description, cover_image, publisher, parution_year, pages, categories_json, bookbox_id)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9::jsonb, NULLIF($10, ''))
		RETURNING `+bookColumns,
		book.ISBN, book.Title, string(authors), book.Description, book.CoverImage,
		book.Publisher, book.ParutionYear, book.Pages, string(categories), book.BookBoxID)
	created, err := scanBook(row)
	if err != nil {
		return Book{}, fmt.Errorf("insert book: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetBook(ctx context.Context, bookID string) (Book, error) {
	return scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=$1`, bookID))
}

// MoveBook re-homes a book: an empty boxID puts the book in circulation.
// date_last_action is bumped so "by recent activity" sorting reflects it.
func (s *PostgresStore) MoveBook(ctx context.Context, bookID, boxID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE books SET bookbox_id=NULLIF($2, ''), date_last_action=NOW() WHERE id=$1
	`, bookID, boxID)
	if err != nil {
		return fmt.Errorf("move book: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("move book: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetBookCover(ctx context.Context, bookID, coverImage string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE books SET cover_image=$2 WHERE id=$1`, bookID, coverImage)
	if err != nil {
		return fmt.Errorf("set book cover: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBooksByBox(ctx context.Context, boxID string) ([]Book, error) {
	return s.listBooks(ctx, `SELECT `+bookColumns+` FROM books WHERE bookbox_id=$1 ORDER BY title`, boxID)
}

func (s *PostgresStore) ListBooks(ctx context.Context) ([]Book, error) {
	return s.listBooks(ctx, `SELECT `+bookColumns+` FROM books ORDER BY date_last_action`)
}

func (s *PostgresStore) listBooks(ctx context.Context, query string, args ...any) ([]Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	items := make([]Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		items = append(items, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return items, nil
}

// BookFilter narrows a catalog search. Zero values mean "no constraint".
type BookFilter struct {
	BookBoxID  string
	Publisher  string
	Year       int
	YearBefore bool
}

// FilterBooks applies the relational filters; keyword matching against the
// authors array and ordering happen in the service layer.
func (s *PostgresStore) FilterBooks(ctx context.Context, filter BookFilter) ([]Book, error) {
	var clauses []string
	var args []any
	argN := 1

	if filter.BookBoxID != "" {
		clauses = append(clauses, fmt.Sprintf("bookbox_id = $%d", argN))
		args = append(args, filter.BookBoxID)
		argN++
	}
	if filter.Publisher != "" {
		clauses = append(clauses, fmt.Sprintf("publisher = $%d", argN))
		args = append(args, filter.Publisher)
		argN++
	}
	if filter.Year > 0 {
		op := ">="
		if filter.YearBefore {
			op = "<="
		}
		clauses = append(clauses, fmt.Sprintf("parution_year %s $%d", op, argN))
		args = append(args, filter.Year)
		argN++
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date_last_action"
	return s.listBooks(ctx, query, args...)
}

func (s *PostgresStore) ClearBooks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM books`); err != nil {
		return fmt.Errorf("clear books: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertBookBox(ctx context.Context, box BookBox) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookboxes (id, name, location, info_text)
		VALUES ($1, $2, $3, $4)
	`, box.ID, box.Name, box.Location, box.InfoText)
	if err != nil {
		return fmt.Errorf("insert bookbox: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBookBox(ctx context.Context, boxID string) (BookBox, error) {
	var box BookBox
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, info_text FROM bookboxes WHERE id=$1
	`, boxID).Scan(&box.ID, &box.Name, &box.Location, &box.InfoText)
	if err != nil {
		return BookBox{}, err
	}
	return box, nil
}

func (s *PostgresStore) ListBookBoxes(ctx context.Context) ([]BookBox, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, location, info_text FROM bookboxes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list bookboxes: %w", err)
	}
	defer rows.Close()

	items := make([]BookBox, 0)
	for rows.Next() {
		var box BookBox
		if err := rows.Scan(&box.ID, &box.Name, &box.Location, &box.InfoText); err != nil {
			return nil, fmt.Errorf("scan bookbox: %w", err)
		}
		items = append(items, box)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookboxes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTransfer(ctx context.Context, transfer Transfer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (book_id, username, action)
		VALUES ($1, $2, $3)
	`, transfer.BookID, transfer.Username, transfer.Action)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransfers(ctx context.Context, bookID string) ([]Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, username, action, created_at
		FROM transfers
		WHERE book_id=$1
		ORDER BY created_at
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	items := make([]Transfer, 0)
	for rows.Next() {
		var item Transfer
		if err := rows.Scan(&item.ID, &item.BookID, &item.Username, &item.Action, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return items, nil
}
