package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore keeps the same key layout as the DynamoDB tables in a local
// SQLite file. Puts replace the whole row, like a DynamoDB PutItem.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dataSourceName, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTables is idempotent; the schema already exists after NewSQLiteStore.
func (s *SQLiteStore) CreateTables(ctx context.Context) error {
	return s.initSchema(ctx)
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        email TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        first_name TEXT NOT NULL DEFAULT '',
        last_name TEXT NOT NULL DEFAULT '',
        password_hash TEXT, -- NULL for SSO accounts
        role TEXT NOT NULL DEFAULT 'user',
        auth_type TEXT NOT NULL DEFAULT 'local',
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        user_id TEXT NOT NULL,
        chat_id TEXT NOT NULL,
        title TEXT NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        PRIMARY KEY (user_id, chat_id)
    );

    CREATE TABLE IF NOT EXISTS chat_messages (
        chat_id TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        PRIMARY KEY (chat_id, timestamp)
    );

    CREATE TABLE IF NOT EXISTS sso_configs (
        id TEXT PRIMARY KEY,
        issuer TEXT NOT NULL,
        entry_point TEXT NOT NULL,
        cert TEXT NOT NULL,
        is_active BOOLEAN NOT NULL DEFAULT FALSE,
        updated_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS secrets (
        name TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    `
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// User methods
const userColumns = "email, user_id, first_name, last_name, password_hash, role, auth_type, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var passwordHash sql.NullString
	var createdAt string
	if err := row.Scan(&user.Email, &user.UserID, &user.FirstName, &user.LastName, &passwordHash, &user.Role, &user.AuthType, &createdAt); err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		user.PasswordHash = passwordHash.String
	}
	user.CreatedAt = parseTime(createdAt)
	return &user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, email string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) PutUser(ctx context.Context, user *User) error {
	var passwordHash sql.NullString
	if user.PasswordHash != "" {
		passwordHash = sql.NullString{String: user.PasswordHash, Valid: true}
	}
	role := user.Role
	if role == "" {
		role = RoleUser
	}
	authType := user.AuthType
	if authType == "" {
		authType = AuthTypeLocal
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		user.Email, user.UserID, user.FirstName, user.LastName, passwordHash, role, authType, formatTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE email = ?", email); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, email, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE email = ?", passwordHash, email)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) UpdateUserName(ctx context.Context, email, firstName, lastName string) (*User, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET first_name = ?, last_name = ? WHERE email = ?", firstName, lastName, email)
	if err != nil {
		return nil, fmt.Errorf("failed to update user name: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, email)
}

// Chat methods
func scanChat(row rowScanner) (*ChatSession, error) {
	var chat ChatSession
	var createdAt, updatedAt string
	if err := row.Scan(&chat.UserID, &chat.ChatID, &chat.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	chat.CreatedAt = parseTime(createdAt)
	chat.UpdatedAt = parseTime(updatedAt)
	return &chat, nil
}

func (s *SQLiteStore) PutChat(ctx context.Context, chat *ChatSession) error {
	stmt, err := s.db.PrepareContext(ctx, "INSERT OR REPLACE INTO chat_sessions (user_id, chat_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chat insert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.ExecContext(ctx, chat.UserID, chat.ChatID, chat.Title, formatTime(chat.CreatedAt), formatTime(chat.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, userID, chatID string) (*ChatSession, error) {
	chat, err := scanChat(s.db.QueryRowContext(ctx,
		"SELECT user_id, chat_id, title, created_at, updated_at FROM chat_sessions WHERE user_id = ? AND chat_id = ?", userID, chatID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, chat_id, title, created_at, updated_at FROM chat_sessions WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []ChatSession{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	sortChatsByUpdated(chats)
	return chats, nil
}

func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, userID, chatID, title string, updatedAt time.Time) (*ChatSession, error) {
	stmt, err := s.db.PrepareContext(ctx, "UPDATE chat_sessions SET title = ?, updated_at = ? WHERE user_id = ? AND chat_id = ?")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chat title update: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, title, formatTime(updatedAt), userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat title update: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, userID, chatID)
}

// Message methods
func (s *SQLiteStore) PutMessage(ctx context.Context, msg *ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO chat_messages (chat_id, timestamp, role, content) VALUES (?, ?, ?, ?)",
		msg.ChatID, formatTime(msg.Timestamp), msg.Role, msg.Content)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chat_id, timestamp, role, content FROM chat_messages WHERE chat_id = ? ORDER BY timestamp ASC", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []ChatMessage{}
	for rows.Next() {
		var msg ChatMessage
		var timestamp string
		if err := rows.Scan(&msg.ChatID, &timestamp, &msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Timestamp = parseTime(timestamp)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SSO config methods
func scanSSOConfig(row rowScanner) (*SSOConfig, error) {
	var cfg SSOConfig
	var updatedAt string
	if err := row.Scan(&cfg.ID, &cfg.Issuer, &cfg.EntryPoint, &cfg.Cert, &cfg.IsActive, &updatedAt); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = parseTime(updatedAt)
	return &cfg, nil
}

const ssoColumns = "id, issuer, entry_point, cert, is_active, updated_at"

func (s *SQLiteStore) PutSSOConfig(ctx context.Context, cfg *SSOConfig) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sso_configs ("+ssoColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		cfg.ID, cfg.Issuer, cfg.EntryPoint, cfg.Cert, cfg.IsActive, formatTime(cfg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert sso config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSSOConfig(ctx context.Context, id string) (*SSOConfig, error) {
	cfg, err := scanSSOConfig(s.db.QueryRowContext(ctx, "SELECT "+ssoColumns+" FROM sso_configs WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sso config: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) ListSSOConfigs(ctx context.Context) ([]SSOConfig, error) {
	return s.querySSOConfigs(ctx, "SELECT "+ssoColumns+" FROM sso_configs")
}

func (s *SQLiteStore) GetActiveSSOConfig(ctx context.Context) (*SSOConfig, error) {
	configs, err := s.querySSOConfigs(ctx, "SELECT "+ssoColumns+" FROM sso_configs WHERE is_active = TRUE")
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}
	return &configs[0], nil
}

func (s *SQLiteStore) querySSOConfigs(ctx context.Context, query string) ([]SSOConfig, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sso configs: %w", err)
	}
	defer rows.Close()

	configs := []SSOConfig{}
	for rows.Next() {
		cfg, err := scanSSOConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sso config row: %w", err)
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (s *SQLiteStore) SetSSOConfigActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sso_configs SET is_active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update sso config: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteSSOConfig(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sso_configs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete sso config: %w", err)
	}
	return nil
}

// Secret methods
func (s *SQLiteStore) PutSecret(ctx context.Context, secret *Secret) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO secrets (name, value, updated_at) VALUES (?, ?, ?)",
		secret.Name, secret.Value, formatTime(secret.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert secret: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSecrets(ctx context.Context) ([]Secret, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value, updated_at FROM secrets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query secrets: %w", err)
	}
	defer rows.Close()

	secrets := []Secret{}
	for rows.Next() {
		var secret Secret
		var updatedAt string
		if err := rows.Scan(&secret.Name, &secret.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan secret row: %w", err)
		}
		secret.UpdatedAt = parseTime(updatedAt)
		secrets = append(secrets, secret)
	}
	return secrets, rows.Err()
}

func (s *SQLiteStore) DeleteSecret(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM secrets WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
