package storage

import (
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"relay/models"
)

// SQLite backs storage with a single long-lived connection. A fresh
// connection per request is disallowed: under concurrent access a
// serialized engine reports lock contention.
type SQLite struct {
	conn *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	s := &SQLite{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient TEXT NOT NULL REFERENCES accounts(username) ON DELETE CASCADE,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			enqueued_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, id)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLite) CreateAccount(username, password string) error {
	exists, err := s.AccountExists(username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUsernameTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.conn.Exec(
		"INSERT INTO accounts (username, password, created_at) VALUES (?, ?, ?)",
		username, string(hashed), now,
	)
	// The existence pre-check is not atomic with the insert; the loser
	// of a concurrent create hits the primary-key constraint instead.
	return mapCreateAccountErr(err)
}

func mapCreateAccountErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return ErrUsernameTaken
	}
	return err
}

func (s *SQLite) VerifyCredentials(username, password string) error {
	var hashed string
	err := s.conn.QueryRow("SELECT password FROM accounts WHERE username = ?", username).Scan(&hashed)
	if err == sql.ErrNoRows {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *SQLite) AccountExists(username string) (bool, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLite) ListAccounts(pattern string, page, pageSize int) ([]string, int, error) {
	rows, err := s.conn.Query("SELECT username FROM accounts")
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var matched []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, 0, err
		}
		if matchPattern(pattern, username) {
			matched = append(matched, username)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	sort.Strings(matched)
	accounts, totalPages := paginate(matched, page, pageSize)
	return accounts, totalPages, nil
}

func (s *SQLite) EnqueueMessage(recipient, sender, body string) error {
	exists, err := s.AccountExists(recipient)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownRecipient
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.conn.Exec(
		"INSERT INTO messages (recipient, sender, body, enqueued_at) VALUES (?, ?, ?, ?)",
		recipient, sender, body, now,
	)
	// An account deleted between the pre-check and the insert trips the
	// foreign key; no orphan row is ever written.
	return mapEnqueueErr(err)
}

func mapEnqueueErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return ErrUnknownRecipient
	}
	return err
}

func (s *SQLite) DrainMessages(recipient string, count int) ([]models.PendingMessage, int, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	query := "SELECT id, sender, body, enqueued_at FROM messages WHERE recipient = ? ORDER BY id ASC"
	args := []interface{}{recipient}
	switch {
	case count < 0:
		query += " LIMIT ?"
		args = append(args, absClamped(count))
	case count > 0:
		query = "SELECT id, sender, body, enqueued_at FROM messages WHERE recipient = ? ORDER BY id DESC LIMIT ?"
		args = append(args, count)
	}

	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := scanMessages(rows, recipient)
	if err != nil {
		return nil, 0, err
	}

	for _, msg := range msgs {
		if _, err := tx.Exec("DELETE FROM messages WHERE id = ?", msg.Seq); err != nil {
			return nil, 0, err
		}
	}

	var remaining int
	if err := tx.QueryRow("SELECT COUNT(*) FROM messages WHERE recipient = ?", recipient).Scan(&remaining); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return msgs, remaining, nil
}

func (s *SQLite) DeleteMessages(recipient string, n int) (int, error) {
	// A negative LIMIT means unlimited in SQLite, so the magnitude must
	// be clamped, never passed through.
	n = absClamped(n)

	result, err := s.conn.Exec(
		`DELETE FROM messages WHERE id IN (
			SELECT id FROM messages WHERE recipient = ? ORDER BY id ASC LIMIT ?
		)`,
		recipient, n,
	)
	if err != nil {
		return 0, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

func (s *SQLite) UnreadCount(recipient string) (int, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM messages WHERE recipient = ?", recipient).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLite) DeleteAccount(username string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM accounts WHERE username = ?", username)
	if err != nil {
		return err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrUnknownUser
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE recipient = ?", username); err != nil {
		return err
	}

	return tx.Commit()
}

func scanMessages(rows *sql.Rows, recipient string) ([]models.PendingMessage, error) {
	defer rows.Close()

	var msgs []models.PendingMessage
	for rows.Next() {
		var m models.PendingMessage
		var enqueuedAt string
		if err := rows.Scan(&m.Seq, &m.Sender, &m.Body, &enqueuedAt); err != nil {
			return nil, err
		}
		m.Recipient = recipient
		m.EnqueuedAt, _ = time.Parse(time.RFC3339, enqueuedAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
