package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bookrelay/api/internal/auth"
	"bookrelay/api/internal/config"
	"bookrelay/api/internal/covers"
	"bookrelay/api/internal/export"
	"bookrelay/api/internal/notify"
	"bookrelay/api/internal/rbac"
	"bookrelay/api/internal/search"
	"bookrelay/api/internal/store"
	"bookrelay/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// IsGuest reports whether the request carried no resolved identity.
func (s Session) IsGuest() bool {
	return s.UserID == ""
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
}

type BookInput struct {
	ID           string   `json:"id"`
	ISBN         string   `json:"isbn"`
	Title        string   `json:"title"`
	Authors      []string `json:"authors"`
	Description  string   `json:"description"`
	Publisher    string   `json:"publisher"`
	ParutionYear int      `json:"parutionYear"`
	Pages        int      `json:"pages"`
	Categories   []string `json:"categories"`
}

type BookBoxInput struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	InfoText string `json:"infoText"`
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByIdentifier(ctx context.Context, identifier string) (store.User, error)
	UpdateUserKeywords(ctx context.Context, userID string, keywords []string) error
	UpdateUserFavorites(ctx context.Context, userID string, favorites []string) error
	AddEcologicalImpact(ctx context.Context, userID string, delta store.EcologicalImpact) error
	ListUsersWithKeywords(ctx context.Context) ([]store.User, error)
	ListNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string) error
	ClearUsers(ctx context.Context) error

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertBook(ctx context.Context, book store.Book) (store.Book, error)
	GetBook(ctx context.Context, bookID string) (store.Book, error)
	MoveBook(ctx context.Context, bookID, boxID string) error
	SetBookCover(ctx context.Context, bookID, coverImage string) error
	ListBooksByBox(ctx context.Context, boxID string) ([]store.Book, error)
	FilterBooks(ctx context.Context, filter store.BookFilter) ([]store.Book, error)
	ClearBooks(ctx context.Context) error
	InsertBookBox(ctx context.Context, box store.BookBox) error
	GetBookBox(ctx context.Context, boxID string) (store.BookBox, error)
	ListBookBoxes(ctx context.Context) ([]store.BookBox, error)
	InsertTransfer(ctx context.Context, transfer store.Transfer) error
	ListTransfers(ctx context.Context, bookID string) ([]store.Transfer, error)

	InsertThread(ctx context.Context, thread store.Thread) (store.Thread, error)
	GetThread(ctx context.Context, threadID string) (store.Thread, error)
	ListThreads(ctx context.Context) ([]store.Thread, error)
	AppendMessage(ctx context.Context, message store.Message) (store.Message, error)
	GetMessage(ctx context.Context, threadID, messageID string) (store.Message, error)
	ListMessages(ctx context.Context, threadID string) ([]store.Message, error)
	InsertReaction(ctx context.Context, reaction store.Reaction) (store.Reaction, error)
	DeleteReactionPair(ctx context.Context, messageID, username, reactIcon string) (int64, error)
	ClearThreads(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexBook(b search.BookRecord)
	IndexThread(t search.ThreadRecord)
	DeleteBook(id string)
	DeleteThread(id string)
}

type notifier interface {
	Notify(ctx context.Context, user store.User, title, content string) error
}

type coverStore interface {
	Put(ctx context.Context, bookID, contentType string, body io.Reader, size int64) (string, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type exporter interface {
	BoxInventory(ctx context.Context, boxID string) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searcher
	notify   notifier
	covers   coverStore
	export   exporter
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service, notifyService *notify.Service, coverService *covers.Service, exportService *export.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
	}
	if searchService != nil {
		s.search = searchService
	}
	if notifyService != nil {
		s.notify = notifyService
	}
	if coverService != nil {
		s.covers = coverService
	}
	if exportService != nil {
		s.export = exportService
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)
	if email == "" || username == "" || input.Password == "" {
		return Session{}, errInvalidInput("Email, username and password are required")
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return Session{}, errInvalidInput("Email already taken")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return Session{}, errInvalidInput("Username already taken")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Phone:        strings.TrimSpace(input.Phone),
		Role:         string(rbac.RoleMember),
	})
	if err != nil {
		// Lost a race with a concurrent signup using the same email or username.
		if store.IsUniqueViolation(err) {
			return Session{}, errInvalidInput("Email already taken")
		}
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, identifier, password string) (Session, error) {
	user, err := s.store.GetUserByIdentifier(ctx, strings.TrimSpace(identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errUnauthorized("Invalid credentials")
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, errUnauthorized("Invalid credentials")
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	stub, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, errUnauthorized("Refresh token invalid")
	}
	user, err := s.store.GetUserByID(ctx, stub.ID)
	if err != nil {
		return Session{}, errUnauthorized("Refresh token invalid")
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:      user.ID,
		Username: user.Username,
		Role:     user.Role,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) GetMe(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	notifications, err := s.store.ListNotifications(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(notifications))
	for _, notification := range notifications {
		items = append(items, map[string]any{
			"id":        notification.ID,
			"title":     notification.Title,
			"content":   notification.Content,
			"read":      notification.Read,
			"timestamp": notification.CreatedAt,
		})
	}

	return map[string]any{
		"id":               user.ID,
		"username":         user.Username,
		"email":            user.Email,
		"phone":            user.Phone,
		"role":             user.Role,
		"keywords":         user.Keywords,
		"favorites":        user.Favorites,
		"ecologicalImpact": user.Impact,
		"notifications":    items,
	}, nil
}

func (s *Service) SetKeywords(ctx context.Context, session Session, keywords []string) ([]string, error) {
	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if err := s.store.UpdateUserKeywords(ctx, session.UserID, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

func (s *Service) AddFavorite(ctx context.Context, session Session, bookID string) ([]string, error) {
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Book not found")
		}
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	for _, id := range user.Favorites {
		if id == bookID {
			return user.Favorites, nil
		}
	}
	favorites := append(user.Favorites, bookID)
	if err := s.store.UpdateUserFavorites(ctx, user.ID, favorites); err != nil {
		return nil, err
	}
	return favorites, nil
}

func (s *Service) RemoveFavorite(ctx context.Context, session Session, bookID string) ([]string, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	favorites := make([]string, 0, len(user.Favorites))
	for _, id := range user.Favorites {
		if id != bookID {
			favorites = append(favorites, id)
		}
	}
	if len(favorites) == len(user.Favorites) {
		return user.Favorites, nil
	}
	if err := s.store.UpdateUserFavorites(ctx, user.ID, favorites); err != nil {
		return nil, err
	}
	return favorites, nil
}

func (s *Service) MarkNotificationsRead(ctx context.Context, session Session) error {
	return s.store.MarkNotificationsRead(ctx, session.UserID)
}

func (s *Service) ClearUsers(ctx context.Context, session Session) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden()
	}
	return s.store.ClearUsers(ctx)
}
