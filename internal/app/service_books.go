package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"bookrelay/api/internal/export"
	"bookrelay/api/internal/rbac"
	"bookrelay/api/internal/search"
	"bookrelay/api/internal/store"
	"bookrelay/api/internal/util"
)

// Estimated savings of passing one book on instead of buying it new.
var impactPerBook = store.EcologicalImpact{
	CarbonSavings: 27.71,
	SavedWater:    2000,
	SavedTrees:    0.005,
}

const (
	transferGiven = "given"
	transferTaken = "taken"
	guestUsername = "guest"
)

// BookSearchInput mirrors the catalog search query parameters.
type BookSearchInput struct {
	Keyword    string
	BookBoxID  string
	Publisher  string
	Year       int
	YearBefore bool
	Classify   string
	Ascending  bool
}

// AddBook drops a book into a book box. Guests are allowed; when the input
// carries an id of a registered book the book is re-homed instead of created.
func (s *Service) AddBook(ctx context.Context, session Session, boxID string, input BookInput) (store.Book, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Book{}, errInvalidInput("Book's title is required")
	}
	box, err := s.store.GetBookBox(ctx, boxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Book{}, errNotFound("Bookbox not found")
		}
		return store.Book{}, err
	}

	var book store.Book
	if input.ID != "" {
		book, err = s.store.GetBook(ctx, input.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.Book{}, err
		}
	}

	if book.ID != "" {
		if book.BookBoxID != "" && book.BookBoxID != box.ID {
			current, err := s.store.GetBookBox(ctx, book.BookBoxID)
			if err != nil {
				return store.Book{}, err
			}
			return store.Book{}, errInvalidInput("Book is supposed to be in the book box " + current.Name)
		}
		if err := s.store.MoveBook(ctx, book.ID, box.ID); err != nil {
			return store.Book{}, err
		}
		book.BookBoxID = box.ID
	} else {
		book, err = s.store.InsertBook(ctx, store.Book{
			ISBN:         input.ISBN,
			Title:        input.Title,
			Authors:      input.Authors,
			Description:  input.Description,
			Publisher:    input.Publisher,
			ParutionYear: input.ParutionYear,
			Pages:        input.Pages,
			Categories:   input.Categories,
			BookBoxID:    box.ID,
		})
		if err != nil {
			return store.Book{}, err
		}
	}

	username := session.Username
	if username == "" {
		username = guestUsername
	}
	if err := s.store.InsertTransfer(ctx, store.Transfer{
		BookID:   book.ID,
		Username: username,
		Action:   transferGiven,
	}); err != nil {
		return store.Book{}, err
	}

	if !session.IsGuest() {
		if err := s.store.AddEcologicalImpact(ctx, session.UserID, impactPerBook); err != nil {
			return store.Book{}, err
		}
	}

	content := fmt.Sprintf("The book %q has been added to the bookbox %q !", book.Title, box.Name)
	if err := s.notifyKeywordMatches(ctx, book, content); err != nil {
		return store.Book{}, err
	}

	if s.search != nil {
		s.search.IndexBook(bookRecord(book))
	}
	return book, nil
}

// TakeBook removes a book from a box and records the taker.
func (s *Service) TakeBook(ctx context.Context, session Session, boxID, bookID string) (store.Book, error) {
	box, err := s.store.GetBookBox(ctx, boxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Book{}, errNotFound("Bookbox not found")
		}
		return store.Book{}, err
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Book{}, errInvalidInput("Book not found in bookbox")
		}
		return store.Book{}, err
	}
	if book.BookBoxID != box.ID {
		return store.Book{}, errInvalidInput("Book not found in bookbox")
	}

	if err := s.store.MoveBook(ctx, book.ID, ""); err != nil {
		return store.Book{}, err
	}
	book.BookBoxID = ""

	username := session.Username
	if username == "" {
		username = guestUsername
	}
	if err := s.store.InsertTransfer(ctx, store.Transfer{
		BookID:   book.ID,
		Username: username,
		Action:   transferTaken,
	}); err != nil {
		return store.Book{}, err
	}

	content := fmt.Sprintf("The book %q has been removed from the bookbox %q !", book.Title, box.Name)
	if err := s.notifyKeywordMatches(ctx, book, content); err != nil {
		return store.Book{}, err
	}

	if s.search != nil {
		s.search.IndexBook(bookRecord(book))
	}
	return book, nil
}

// notifyKeywordMatches notifies every user whose keywords match the book's
// title, authors or categories.
func (s *Service) notifyKeywordMatches(ctx context.Context, book store.Book, content string) error {
	if s.notify == nil {
		return nil
	}
	users, err := s.store.ListUsersWithKeywords(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		if !keywordsMatchBook(user.Keywords, book) {
			continue
		}
		if err := s.notify.Notify(ctx, user, book.Title, content); err != nil {
			return err
		}
	}
	return nil
}

func keywordsMatchBook(keywords []string, book store.Book) bool {
	for _, keyword := range keywords {
		needle := strings.ToLower(keyword)
		if strings.Contains(strings.ToLower(book.Title), needle) {
			return true
		}
		for _, author := range book.Authors {
			if strings.Contains(strings.ToLower(author), needle) {
				return true
			}
		}
		for _, category := range book.Categories {
			if strings.Contains(strings.ToLower(category), needle) {
				return true
			}
		}
	}
	return false
}

// GetBook returns a book together with its given/taken history.
func (s *Service) GetBook(ctx context.Context, bookID string) (map[string]any, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Book not found")
		}
		return nil, err
	}
	transfers, err := s.store.ListTransfers(ctx, bookID)
	if err != nil {
		return nil, err
	}

	history := make([]map[string]any, 0, len(transfers))
	for _, transfer := range transfers {
		history = append(history, map[string]any{
			"username":  transfer.Username,
			"action":    transfer.Action,
			"timestamp": transfer.CreatedAt,
		})
	}
	payload := bookPayload(book)
	payload["transfers"] = history
	return payload, nil
}

// SearchBooks filters and orders the catalog. The relational filters run in
// the store; keyword matching against authors and the final ordering happen
// here.
func (s *Service) SearchBooks(ctx context.Context, input BookSearchInput) ([]map[string]any, error) {
	books, err := s.store.FilterBooks(ctx, store.BookFilter{
		BookBoxID:  input.BookBoxID,
		Publisher:  input.Publisher,
		Year:       input.Year,
		YearBefore: input.YearBefore,
	})
	if err != nil {
		return nil, err
	}

	if keyword := strings.TrimSpace(input.Keyword); keyword != "" {
		needle := strings.ToLower(keyword)
		kept := books[:0]
		for _, book := range books {
			if bookMatchesKeyword(book, needle) {
				kept = append(kept, book)
			}
		}
		books = kept
	}

	classify := input.Classify
	if classify == "" {
		classify = "by title"
	}
	less := func(a, b store.Book) bool {
		switch classify {
		case "by author":
			return firstAuthor(a) < firstAuthor(b)
		case "by year":
			return a.ParutionYear < b.ParutionYear
		case "by recent activity":
			return a.DateLastAction.Before(b.DateLastAction)
		default:
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
	}
	sort.SliceStable(books, func(i, j int) bool {
		if input.Ascending {
			return less(books[i], books[j])
		}
		return less(books[j], books[i])
	})

	items := make([]map[string]any, 0, len(books))
	for _, book := range books {
		items = append(items, bookPayload(book))
	}
	return items, nil
}

func bookMatchesKeyword(book store.Book, needle string) bool {
	if strings.Contains(strings.ToLower(book.Title), needle) {
		return true
	}
	for _, author := range book.Authors {
		if strings.Contains(strings.ToLower(author), needle) {
			return true
		}
	}
	return false
}

func firstAuthor(book store.Book) string {
	if len(book.Authors) == 0 {
		return ""
	}
	return strings.ToLower(book.Authors[0])
}

func (s *Service) CreateBookBox(ctx context.Context, session Session, input BookBoxInput) (store.BookBox, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.BookBox{}, errForbidden()
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.BookBox{}, errInvalidInput("Bookbox name is required")
	}
	box := store.BookBox{
		ID:       util.NewID("bbx"),
		Name:     strings.TrimSpace(input.Name),
		Location: strings.TrimSpace(input.Location),
		InfoText: strings.TrimSpace(input.InfoText),
	}
	if err := s.store.InsertBookBox(ctx, box); err != nil {
		return store.BookBox{}, err
	}
	return box, nil
}

// GetBookBox returns a box and its current contents.
func (s *Service) GetBookBox(ctx context.Context, boxID string) (map[string]any, error) {
	box, err := s.store.GetBookBox(ctx, boxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Bookbox not found")
		}
		return nil, err
	}
	books, err := s.store.ListBooksByBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(books))
	for _, book := range books {
		items = append(items, bookPayload(book))
	}
	return map[string]any{
		"id":       box.ID,
		"name":     box.Name,
		"location": box.Location,
		"infoText": box.InfoText,
		"books":    items,
	}, nil
}

func (s *Service) ListBookBoxes(ctx context.Context) ([]store.BookBox, error) {
	return s.store.ListBookBoxes(ctx)
}

func (s *Service) ClearBooks(ctx context.Context, session Session) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden()
	}
	return s.store.ClearBooks(ctx)
}

// UploadCover stores a cover image and records its object key on the book.
func (s *Service) UploadCover(ctx context.Context, bookID, contentType string, body io.Reader, size int64) (string, error) {
	if s.covers == nil {
		return "", domainError(http.StatusServiceUnavailable, "COVERS_UNAVAILABLE", "Cover storage not configured", nil)
	}
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errNotFound("Book not found")
		}
		return "", err
	}
	key, err := s.covers.Put(ctx, bookID, contentType, body, size)
	if err != nil {
		return "", err
	}
	if err := s.store.SetBookCover(ctx, bookID, key); err != nil {
		return "", err
	}
	return key, nil
}

// CoverURL returns a short-lived download URL for a book's cover.
func (s *Service) CoverURL(ctx context.Context, bookID string) (string, error) {
	if s.covers == nil {
		return "", domainError(http.StatusServiceUnavailable, "COVERS_UNAVAILABLE", "Cover storage not configured", nil)
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errNotFound("Book not found")
		}
		return "", err
	}
	if book.CoverImage == "" {
		return "", errNotFound("Cover not found")
	}
	return s.covers.PresignedURL(ctx, book.CoverImage, 15*time.Minute)
}

// ExportBoxInventory renders the printable inventory sheet for a box.
func (s *Service) ExportBoxInventory(ctx context.Context, boxID string) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	result, err := s.export.BoxInventory(ctx, boxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Bookbox not found")
		}
		return nil, err
	}
	return result, nil
}

func bookRecord(book store.Book) search.BookRecord {
	return search.BookRecord{
		ID:        book.ID,
		Title:     book.Title,
		Authors:   strings.Join(book.Authors, ", "),
		Publisher: book.Publisher,
		BookBoxID: book.BookBoxID,
	}
}

func bookPayload(book store.Book) map[string]any {
	return map[string]any{
		"id":             book.ID,
		"isbn":           book.ISBN,
		"title":          book.Title,
		"authors":        book.Authors,
		"description":    book.Description,
		"coverImage":     book.CoverImage,
		"publisher":      book.Publisher,
		"parutionYear":   book.ParutionYear,
		"pages":          book.Pages,
		"categories":     book.Categories,
		"bookboxId":      book.BookBoxID,
		"dateLastAction": book.DateLastAction,
	}
}
