package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"chatrelay/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// DefaultHistoryLimit caps a history query when the filter leaves Limit unset.
const DefaultHistoryLimit = 50

type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// NewDB opens the store. A postgres:// or postgresql:// dsn selects the pgx
// driver; anything else is treated as a sqlite file path.
func NewDB(dsn string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := "sqlite3"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
	} else if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if driver == "sqlite3" {
		// one writer; also keeps a :memory: database alive across calls
		conn.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	logger.Info("database ready", zap.String("driver", driver))
	return &DB{DB: conn, logger: logger}, nil
}

func initSchema(ctx context.Context, db *sqlx.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			sender_id TEXT NOT NULL REFERENCES users(id),
			recipient_id TEXT NULL REFERENCES users(id),
			is_private BOOLEAN NOT NULL DEFAULT FALSE,
			channel TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

// Ping reports whether the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// User methods

// CreateUser stores a user whose password is already hashed. ID and
// CreatedAt must be set by the caller.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	user.CreatedAt = user.CreatedAt.UTC()
	_, err := db.ExecContext(ctx, db.Rebind(
		"INSERT INTO users (id, username, password, created_at) VALUES (?, ?, ?, ?)"),
		user.ID, user.Username, user.Password, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(
		"SELECT id, username, password, created_at FROM users WHERE username = ?"), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(
		"SELECT id, username, password, created_at FROM users WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

// GetAllUsers returns all users in the database ordered by username.
func (db *DB) GetAllUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := db.SelectContext(ctx, &users,
		"SELECT id, username, password, created_at FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Message methods

// SaveMessage persists an immutable message record.
func (db *DB) SaveMessage(ctx context.Context, msg *models.Message) error {
	msg.CreatedAt = msg.CreatedAt.UTC()
	recipient := sql.NullString{String: msg.RecipientID, Valid: msg.RecipientID != ""}
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO messages (id, content, sender_id, recipient_id, is_private, channel, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), msg.ID, msg.Content, msg.SenderID, recipient, msg.IsPrivate, msg.Channel, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// QueryMessages returns the newest messages matching filter, newest first.
//
// PrivateOnly with a UserID selects whispers the user sent or received. A
// Channel selects that channel's public messages. A UserID alone selects all
// public messages plus the user's whispers, and the zero filter selects
// public messages only.
func (db *DB) QueryMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	var (
		where string
		args  []any
	)
	switch {
	case filter.PrivateOnly && filter.UserID != "":
		where = "m.is_private = ? AND (m.sender_id = ? OR m.recipient_id = ?)"
		args = append(args, true, filter.UserID, filter.UserID)
	case filter.Channel != "":
		where = "m.is_private = ? AND m.channel = ?"
		args = append(args, false, filter.Channel)
	case filter.UserID != "":
		where = "m.is_private = ? OR m.sender_id = ? OR m.recipient_id = ?"
		args = append(args, false, filter.UserID, filter.UserID)
	default:
		where = "m.is_private = ?"
		args = append(args, false)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	args = append(args, limit)

	query := db.Rebind(`
		SELECT m.id, m.content, m.sender_id,
			COALESCE(u.username, '') AS sender_name,
			COALESCE(m.recipient_id, '') AS recipient_id,
			m.is_private, m.channel, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE ` + where + `
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`)

	messages := []models.Message{}
	if err := db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	for i := range messages {
		messages[i].CreatedAt = messages[i].CreatedAt.UTC()
	}
	return messages, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
