package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBook   ResultType = "book"
	ResultThread ResultType = "thread"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexBook(b BookRecord) error
	IndexThread(t ThreadRecord) error
	DeleteBook(id string) error
	DeleteThread(id string) error
}

// BookRecord is the data we index for a book.
type BookRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Publisher string `json:"publisher"`
	BookBoxID string `json:"bookboxId"`
}

// ThreadRecord is the data we index for a discussion thread.
type ThreadRecord struct {
	ID        string `json:"id"`
	BookTitle string `json:"bookTitle"`
	Title     string `json:"title"`
	Username  string `json:"username"`
}
