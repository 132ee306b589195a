package storage

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"relay/models"
)

// Memory keeps all state in process memory behind a single lock. Suitable
// for tests and low-load deployments.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	queues   map[string][]models.PendingMessage
	nextSeq  map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]models.Account),
		queues:   make(map[string][]models.PendingMessage),
		nextSeq:  make(map[string]int64),
	}
}

func (m *Memory) CreateAccount(username, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[username]; ok {
		return ErrUsernameTaken
	}
	m.accounts[username] = models.Account{
		Username:  username,
		Password:  string(hashed),
		CreatedAt: time.Now().UTC(),
	}
	m.queues[username] = nil
	m.nextSeq[username] = 1
	return nil
}

func (m *Memory) VerifyCredentials(username, password string) error {
	m.mu.Lock()
	account, ok := m.accounts[username]
	m.mu.Unlock()

	if !ok {
		return ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (m *Memory) AccountExists(username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[username]
	return ok, nil
}

func (m *Memory) ListAccounts(pattern string, page, pageSize int) ([]string, int, error) {
	m.mu.Lock()
	var matched []string
	for username := range m.accounts {
		if matchPattern(pattern, username) {
			matched = append(matched, username)
		}
	}
	m.mu.Unlock()

	sort.Strings(matched)
	accounts, totalPages := paginate(matched, page, pageSize)
	return accounts, totalPages, nil
}

func (m *Memory) EnqueueMessage(recipient, sender, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[recipient]; !ok {
		return ErrUnknownRecipient
	}
	seq := m.nextSeq[recipient]
	m.nextSeq[recipient] = seq + 1
	m.queues[recipient] = append(m.queues[recipient], models.PendingMessage{
		Seq:        seq,
		Recipient:  recipient,
		Sender:     sender,
		Body:       body,
		EnqueuedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) DrainMessages(recipient string, count int) ([]models.PendingMessage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[recipient]
	var drained []models.PendingMessage

	switch {
	case count == 0:
		drained = queue
		m.queues[recipient] = nil
	case count < 0:
		n := absClamped(count)
		if n > len(queue) {
			n = len(queue)
		}
		drained = append(drained, queue[:n]...)
		m.queues[recipient] = queue[n:]
	default:
		n := count
		if n > len(queue) {
			n = len(queue)
		}
		// Latest n, returned newest first.
		tail := queue[len(queue)-n:]
		for i := len(tail) - 1; i >= 0; i-- {
			drained = append(drained, tail[i])
		}
		m.queues[recipient] = queue[:len(queue)-n]
	}

	return drained, len(m.queues[recipient]), nil
}

func (m *Memory) DeleteMessages(recipient string, n int) (int, error) {
	n = absClamped(n)

	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[recipient]
	if n > len(queue) {
		n = len(queue)
	}
	m.queues[recipient] = queue[n:]
	return n, nil
}

func (m *Memory) UnreadCount(recipient string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[recipient]), nil
}

func (m *Memory) DeleteAccount(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[username]; !ok {
		return ErrUnknownUser
	}
	delete(m.accounts, username)
	delete(m.queues, username)
	delete(m.nextSeq, username)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
