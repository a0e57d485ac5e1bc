package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("not found")

const timeLayout = "2006-01-02 15:04:05"

// User is a chat participant.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ChatRole  string    `json:"chat_role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a direct or group chat.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one chat message.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	Content        string    `json:"content"`
	Reaction       *string   `json:"reaction,omitempty"`
	ReplyToID      *int64    `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Statistics summarises a conversation.
type Statistics struct {
	ConversationID   int64     `json:"conversation_id"`
	Title            string    `json:"title"`
	IsGroup          bool      `json:"is_group"`
	TotalMessages    int64     `json:"total_messages"`
	ParticipantCount int64     `json:"participant_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store wraps the relational database backing the directory tools.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the datastore using the supplied DSN/file path and driver
// ("sqlite" or "postgres").
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create datastore directory: %w", err)
		}
		conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dsn)
		db, err = sql.Open("sqlite", conn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite datastore: %w", err)
		}
		// One writer at a time keeps sqlite from returning SQLITE_BUSY under load.
		db.SetMaxOpenConns(1)
	case "postgres":
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres datastore: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported datastore driver: %s", driver)
	}

	s := &Store{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		id = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + id + `,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			chat_role TEXT NOT NULL DEFAULT 'member',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id ` + id + `,
			title TEXT NOT NULL,
			is_group BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_users (
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (conversation_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id ` + id + `,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			reaction TEXT,
			reply_to_id BIGINT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts '?' placeholders to the driver's positional syntax.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ChatRole == "" {
		u.ChatRole = "member"
	}
	u.CreatedAt = time.Now().UTC()
	id, err := s.insert(ctx, `INSERT INTO users (username, email, chat_role, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.ChatRole, u.IsActive, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	return nil
}

// CreateConversation inserts a conversation with its participants.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation, userIDs ...int64) error {
	c.CreatedAt = time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	if s.driver == "postgres" {
		err = tx.QueryRowContext(ctx, s.rebind(`INSERT INTO conversations (title, is_group, created_at) VALUES (?, ?, ?) RETURNING id`),
			c.Title, c.IsGroup, c.CreatedAt).Scan(&id)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO conversations (title, is_group, created_at) VALUES (?, ?, ?)`, c.Title, c.IsGroup, c.CreatedAt)
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	for i, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO conversation_users (conversation_id, user_id, is_admin) VALUES (?, ?, ?)`),
			id, uid, i == 0); err != nil {
			return fmt.Errorf("add participant %d: %w", uid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.ID = id
	return nil
}

const userColumns = `id, username, email, chat_role, is_active, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.ChatRole, &u.IsActive, &u.CreatedAt)
	return u, err
}

func (s *Store) findUser(ctx context.Context, column string, value interface{}) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByID loads a user by primary key.
func (s *Store) FindUserByID(ctx context.Context, id int64) (*User, error) {
	return s.findUser(ctx, "id", id)
}

// FindUserByEmail loads a user by email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, "email", email)
}

// FindUserByUsername loads a user by username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.findUser(ctx, "username", username)
}

// SearchUsers matches username or email by substring. excludeID <= 0 disables exclusion.
func (s *Store) SearchUsers(ctx context.Context, term string, excludeID int64) ([]User, error) {
	pattern := "%" + term + "%"
	query := `SELECT ` + userColumns + ` FROM users WHERE (username LIKE ? OR email LIKE ?)`
	args := []interface{}{pattern, pattern}
	if excludeID > 0 {
		query += ` AND id <> ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY username ASC LIMIT 50`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) queryConversations(ctx context.Context, query string, args ...interface{}) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.IsGroup, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindConversationByID loads a conversation.
func (s *Store) FindConversationByID(ctx context.Context, id int64) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, title, is_group, created_at FROM conversations WHERE id = ?`), id).
		Scan(&c.ID, &c.Title, &c.IsGroup, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindConversationsByUser lists the conversations a user belongs to, newest first.
func (s *Store) FindConversationsByUser(ctx context.Context, userID int64) ([]Conversation, error) {
	return s.queryConversations(ctx, `SELECT c.id, c.title, c.is_group, c.created_at
		FROM conversations c
		JOIN conversation_users cu ON cu.conversation_id = c.id
		WHERE cu.user_id = ?
		ORDER BY c.created_at DESC, c.id DESC`, userID)
}

// AllConversations lists every conversation, newest first.
func (s *Store) AllConversations(ctx context.Context) ([]Conversation, error) {
	return s.queryConversations(ctx, `SELECT id, title, is_group, created_at FROM conversations ORDER BY created_at DESC, id DESC`)
}

// UserInConversation reports conversation membership.
func (s *Store) UserInConversation(ctx context.Context, conversationID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM conversation_users WHERE conversation_id = ? AND user_id = ?`),
		conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ConversationParticipants lists the members of a conversation.
func (s *Store) ConversationParticipants(ctx context.Context, conversationID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT u.id, u.username, u.email, u.chat_role, u.is_active, u.created_at
		FROM conversation_users cu
		JOIN users u ON u.id = cu.user_id
		WHERE cu.conversation_id = ?
		ORDER BY u.username ASC`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const messageColumns = `id, conversation_id, user_id, content, reaction, reply_to_id, created_at`

func (s *Store) queryMessages(ctx context.Context, query string, args ...interface{}) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row interface{ Scan(...interface{}) error }) (Message, error) {
	var (
		m        Message
		reaction sql.NullString
		replyTo  sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Content, &reaction, &replyTo, &m.CreatedAt); err != nil {
		return m, err
	}
	if reaction.Valid {
		m.Reaction = &reaction.String
	}
	if replyTo.Valid {
		m.ReplyToID = &replyTo.Int64
	}
	return m, nil
}

// MessagesByConversation returns up to limit messages in chronological order.
func (s *Store) MessagesByConversation(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC LIMIT ?`, conversationID, limit)
}

// FindMessageByID loads a message.
func (s *Store) FindMessageByID(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage stores a message and returns its id.
func (s *Store) InsertMessage(ctx context.Context, conversationID, userID int64, content string, replyToID *int64) (int64, error) {
	var reply interface{}
	if replyToID != nil {
		reply = *replyToID
	}
	id, err := s.insert(ctx, `INSERT INTO messages (conversation_id, user_id, content, reply_to_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, userID, content, reply, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// SearchMessages finds messages in a conversation containing term, newest first.
func (s *Store) SearchMessages(ctx context.Context, conversationID int64, term string) ([]Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND content LIKE ?
		ORDER BY created_at DESC, id DESC LIMIT 50`, conversationID, "%"+term+"%")
}

// ConversationSummary renders the last messages of a conversation as text.
func (s *Store) ConversationSummary(ctx context.Context, conversationID int64, limit int) (string, error) {
	messages, err := s.MessagesByConversation(ctx, conversationID, limit)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "No messages in this conversation.", nil
	}

	names := map[int64]string{}
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation summary (last %d messages):\n\n", len(messages))
	for _, m := range messages {
		name, ok := names[m.UserID]
		if !ok {
			name = "Unknown"
			if u, err := s.FindUserByID(ctx, m.UserID); err == nil {
				name = u.Username
			} else if !errors.Is(err, ErrNotFound) {
				return "", err
			}
			names[m.UserID] = name
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.UTC().Format(timeLayout), name, m.Content)
	}
	return b.String(), nil
}

// ConversationStatistics counts messages and participants of a conversation.
func (s *Store) ConversationStatistics(ctx context.Context, conversationID int64) (*Statistics, error) {
	conv, err := s.FindConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
		}
		return nil, err
	}
	stats := &Statistics{
		ConversationID: conv.ID,
		Title:          conv.Title,
		IsGroup:        conv.IsGroup,
		CreatedAt:      conv.CreatedAt,
	}
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`), conversationID).
		Scan(&stats.TotalMessages); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM conversation_users WHERE conversation_id = ?`), conversationID).
		Scan(&stats.ParticipantCount); err != nil {
		return nil, err
	}
	return stats, nil
}
