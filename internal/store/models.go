package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Phone        string
	Role         string
	Keywords     []string
	Favorites    []string
	Impact       EcologicalImpact
	CreatedAt    time.Time
}

// EcologicalImpact accumulates the estimated savings of re-circulating
// books instead of buying them new.
type EcologicalImpact struct {
	CarbonSavings float64 `json:"carbonSavings"`
	SavedWater    float64 `json:"savedWater"`
	SavedTrees    float64 `json:"savedTrees"`
}

type Notification struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	Read      bool
	CreatedAt time.Time
}

type Book struct {
	ID             string
	ISBN           string
	Title          string
	Authors        []string
	Description    string
	CoverImage     string
	Publisher      string
	ParutionYear   int
	Pages          int
	Categories     []string
	BookBoxID      string // empty when the book is in circulation
	DateLastAction time.Time
}

type BookBox struct {
	ID       string
	Name     string
	Location string
	InfoText string
}

// Transfer is one entry in a book's given/taken history.
type Transfer struct {
	ID        string
	BookID    string
	Username  string
	Action    string // "given" or "taken"
	CreatedAt time.Time
}

type Thread struct {
	ID        string
	BookTitle string // snapshot of the book title at creation time
	Username  string
	Title     string
	CreatedAt time.Time

	// Aggregates populated by ListThreads for search/sort.
	MessageCount  int
	LastMessageAt time.Time
}

type Message struct {
	ID         string
	ThreadID   string
	Seq        int
	Username   string
	Content    string
	RespondsTo string // message id within the same thread, empty for top-level
	Timestamp  time.Time
	Reactions  []Reaction
}

type Reaction struct {
	ID        int64
	MessageID string
	Username  string
	ReactIcon string
	CreatedAt time.Time
}
