package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, username, email, password_hash, phone, role, keywords_json::text, favorites_json::text, impact_json::text, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var keywordsRaw, favoritesRaw, impactRaw []byte
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Phone, &user.Role, &keywordsRaw, &favoritesRaw, &impactRaw, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	_ = json.Unmarshal(keywordsRaw, &user.Keywords)
	_ = json.Unmarshal(favoritesRaw, &user.Favorites)
	_ = json.Unmarshal(impactRaw, &user.Impact)
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	keywords, _ := json.Marshal(emptyIfNil(user.Keywords))
	favorites, _ := json.Marshal(emptyIfNil(user.Favorites))
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, phone, role, keywords_json, favorites_json)
		VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5, ''), 'member'), $6::jsonb, $7::jsonb)
		RETURNING `+userColumns,
		user.Username, user.Email, user.PasswordHash, user.Phone, user.Role, string(keywords), string(favorites))
	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

// GetUserByIdentifier resolves a login identifier that may be either a
// username or an email address.
func (s *PostgresStore) GetUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1 OR email=$1`, identifier))
}

func (s *PostgresStore) UpdateUserKeywords(ctx context.Context, userID string, keywords []string) error {
	encoded, _ := json.Marshal(emptyIfNil(keywords))
	_, err := s.db.ExecContext(ctx, `UPDATE users SET keywords_json=$2::jsonb WHERE id=$1`, userID, string(encoded))
	if err != nil {
		return fmt.Errorf("update keywords: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserFavorites(ctx context.Context, userID string, favorites []string) error {
	encoded, _ := json.Marshal(emptyIfNil(favorites))
	_, err := s.db.ExecContext(ctx, `UPDATE users SET favorites_json=$2::jsonb WHERE id=$1`, userID, string(encoded))
	if err != nil {
		return fmt.Errorf("update favorites: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddEcologicalImpact(ctx context.Context, userID string, delta EcologicalImpact) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET impact_json = jsonb_build_object(
			'carbonSavings', ROUND((COALESCE((impact_json->>'carbonSavings')::numeric, 0) + $2::numeric), 3),
			'savedWater', ROUND((COALESCE((impact_json->>'savedWater')::numeric, 0) + $3::numeric), 3),
			'savedTrees', ROUND((COALESCE((impact_json->>'savedTrees')::numeric, 0) + $4::numeric), 3)
		)
		WHERE id=$1
	`, userID, delta.CarbonSavings, delta.SavedWater, delta.SavedTrees)
	if err != nil {
		return fmt.Errorf("add ecological impact: %w", err)
	}
	return nil
}

// ListUsersWithKeywords returns every user that registered at least one
// notification keyword. Matching happens in the service layer.
func (s *PostgresStore) ListUsersWithKeywords(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE jsonb_array_length(keywords_json) > 0`)
	if err != nil {
		return nil, fmt.Errorf("list users with keywords: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, content)
		VALUES ($1, $2, $3)
	`, notification.UserID, notification.Title, notification.Content)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, content, read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Content, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE user_id=$1`, userID)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearUsers(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixedUserColumns("u")+`
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func prefixedUserColumns(alias string) string {
	return alias + `.id, ` + alias + `.username, ` + alias + `.email, ` + alias + `.password_hash, ` + alias + `.phone, ` + alias + `.role, ` + alias + `.keywords_json::text, ` + alias + `.favorites_json::text, ` + alias + `.impact_json::text, ` + alias + `.created_at`
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var coded sqlState
	if errors.As(err, &coded) {
		return coded.SQLState() == "23505"
	}
	return false
}
