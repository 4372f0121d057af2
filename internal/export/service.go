// Package export renders printable book-box inventory sheets as PDF.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookrelay/api/internal/store"
)

// ErrPDFDependencyMissing means headless Chrome is not installed.
var ErrPDFDependencyMissing = errors.New("pdf dependency missing")

// Result is a generated export artifact.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

type dataStore interface {
	GetBookBox(ctx context.Context, boxID string) (store.BookBox, error)
	ListBooksByBox(ctx context.Context, boxID string) ([]store.Book, error)
}

// Service builds inventory sheets for book boxes.
type Service struct {
	store dataStore
}

func NewService(store dataStore) *Service {
	return &Service{store: store}
}

// BoxInventory renders the current contents of a book box as a PDF sheet
// suitable for printing and pinning to the box.
func (s *Service) BoxInventory(ctx context.Context, boxID string) (*Result, error) {
	box, err := s.store.GetBookBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	books, err := s.store.ListBooksByBox(ctx, boxID)
	if err != nil {
		return nil, fmt.Errorf("list box books: %w", err)
	}

	data := TemplateData{
		BoxName:     box.Name,
		Location:    box.Location,
		InfoText:    box.InfoText,
		GeneratedAt: time.Now(),
		Books:       make([]TemplateBook, 0, len(books)),
	}
	for _, book := range books {
		data.Books = append(data.Books, TemplateBook{
			Title:     book.Title,
			Authors:   strings.Join(book.Authors, ", "),
			Publisher: book.Publisher,
			Year:      book.ParutionYear,
			ISBN:      book.ISBN,
		})
	}

	html, err := RenderInventoryHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render inventory: %w", err)
	}
	return renderPDF(html, box.Name)
}
