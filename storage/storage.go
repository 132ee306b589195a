package storage

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"relay/models"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrUnknownUser        = errors.New("user does not exist")
	ErrUnknownRecipient   = errors.New("recipient does not exist")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Storage owns accounts, credentials and per-recipient pending-message
// queues. Implementations must be safe for concurrent use; per-recipient
// FIFO order of pending messages is a hard invariant.
type Storage interface {
	CreateAccount(username, password string) error
	// VerifyCredentials returns ErrInvalidCredentials for both an unknown
	// username and a wrong password, so callers cannot enumerate accounts.
	VerifyCredentials(username, password string) error
	AccountExists(username string) (bool, error)
	// ListAccounts returns usernames matching a shell-style wildcard
	// pattern, sorted lexicographically and paginated. page is 1-indexed;
	// totalPages is at least 1 even with no matches.
	ListAccounts(pattern string, page, pageSize int) (accounts []string, totalPages int, err error)

	EnqueueMessage(recipient, sender, body string) error
	// DrainMessages removes and returns pending messages for recipient.
	// count > 0 returns the count most recent messages, newest first;
	// count < 0 returns the |count| earliest, oldest first; count == 0
	// returns everything, oldest first. Read and removal are atomic.
	DrainMessages(recipient string, count int) (msgs []models.PendingMessage, remaining int, err error)
	// DeleteMessages removes the earliest |n| pending messages regardless
	// of the sign of n and returns how many were actually removed.
	DeleteMessages(recipient string, n int) (int, error)
	UnreadCount(recipient string) (int, error)

	// DeleteAccount removes the account and all its pending messages as
	// one atomic unit.
	DeleteAccount(username string) error

	Close() error
}

// absClamped returns |n|, saturating at math.MaxInt: negating math.MinInt
// overflows back to itself, and a count that large means "everything"
// anyway.
func absClamped(n int) int {
	if n == math.MinInt {
		return math.MaxInt
	}
	if n < 0 {
		return -n
	}
	return n
}

// matchPattern reports whether name matches a shell-style wildcard pattern
// where '*' matches any run of characters and '?' a single character.
// Matching is case-sensitive.
func matchPattern(pattern, name string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

// paginate slices sorted matches into the requested 1-indexed page.
func paginate(matched []string, page, pageSize int) ([]string, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	totalPages := 1
	if len(matched) > 0 {
		totalPages = (len(matched)-1)/pageSize + 1
	}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, totalPages
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], totalPages
}
