package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/models"
)

type fakeAccounts map[string]bool

func (f fakeAccounts) AccountExists(username string) (bool, error) {
	return f[username], nil
}

func newRegistry(ttl time.Duration) *Registry {
	return NewRegistry(fakeAccounts{"alice": true, "bob": true}, ttl, zerolog.Nop())
}

func TestCreateAndValidate(t *testing.T) {
	r := newRegistry(time.Hour)

	token, err := r.Create("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	username, err := r.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	// Every login issues a distinct token.
	second, err := r.Create("alice")
	require.NoError(t, err)
	assert.NotEqual(t, token, second)
}

func TestCreateUnknownUser(t *testing.T) {
	r := newRegistry(time.Hour)

	_, err := r.Create("nobody")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestValidateExpired(t *testing.T) {
	r := newRegistry(10 * time.Millisecond)

	token, err := r.Create("alice")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// Expiry applies at validation even before the sweeper runs.
	_, err = r.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSweepRemovesExpired(t *testing.T) {
	r := newRegistry(10 * time.Millisecond)

	_, err := r.Create("alice")
	require.NoError(t, err)
	_, err = r.Create("bob")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, r.Sweep())
	assert.Equal(t, 0, r.Count())
}

func TestSweepClosesChannels(t *testing.T) {
	r := newRegistry(10 * time.Millisecond)

	token, err := r.Create("alice")
	require.NoError(t, err)
	ch, err := r.AttachChannel(token)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	r.Sweep()

	_, open := <-ch
	assert.False(t, open)
}

func TestRevokeIdempotent(t *testing.T) {
	r := newRegistry(time.Hour)

	token, err := r.Create("alice")
	require.NoError(t, err)

	r.Revoke(token)
	_, err = r.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	// Revoking again is a no-op, never a panic or error.
	r.Revoke(token)
	r.Revoke("no-such-token")
}

func TestRevokeAllForUser(t *testing.T) {
	r := newRegistry(time.Hour)

	first, err := r.Create("alice")
	require.NoError(t, err)
	second, err := r.Create("alice")
	require.NoError(t, err)
	other, err := r.Create("bob")
	require.NoError(t, err)

	r.RevokeAllForUser("alice")

	_, err = r.Validate(first)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = r.Validate(second)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = r.Validate(other)
	assert.NoError(t, err)
}

func TestAttachChannelInvalidToken(t *testing.T) {
	r := newRegistry(time.Hour)

	_, err := r.AttachChannel("bogus")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestAttachReplacesPriorChannel(t *testing.T) {
	r := newRegistry(time.Hour)

	token, err := r.Create("alice")
	require.NoError(t, err)

	old, err := r.AttachChannel(token)
	require.NoError(t, err)
	replacement, err := r.AttachChannel(token)
	require.NoError(t, err)

	// The replaced channel is closed so its reader winds down.
	_, open := <-old
	assert.False(t, open)

	require.True(t, r.Push("alice", models.Push{Sender: "bob", Body: "hi"}))
	push := <-replacement
	assert.Equal(t, "bob", push.Sender)
}

func TestPushPrefersLatestAttachment(t *testing.T) {
	r := newRegistry(time.Hour)

	first, err := r.Create("alice")
	require.NoError(t, err)
	second, err := r.Create("alice")
	require.NoError(t, err)

	chFirst, err := r.AttachChannel(first)
	require.NoError(t, err)
	chSecond, err := r.AttachChannel(second)
	require.NoError(t, err)

	require.True(t, r.Push("alice", models.Push{Sender: "bob", Body: "hi"}))

	select {
	case push := <-chSecond:
		assert.Equal(t, "hi", push.Body)
	default:
		t.Fatal("expected delivery to the most recently attached channel")
	}
	select {
	case <-chFirst:
		t.Fatal("message fanned out to an older channel")
	default:
	}
}

func TestPushWithoutChannelFails(t *testing.T) {
	r := newRegistry(time.Hour)

	_, err := r.Create("alice")
	require.NoError(t, err)

	assert.False(t, r.Push("alice", models.Push{Sender: "bob", Body: "hi"}))
}

func TestPushFullBufferFails(t *testing.T) {
	r := newRegistry(time.Hour)

	token, err := r.Create("alice")
	require.NoError(t, err)
	_, err = r.AttachChannel(token)
	require.NoError(t, err)

	for i := 0; i < pushBuffer; i++ {
		require.True(t, r.Push("alice", models.Push{Sender: "bob", Body: "fill"}))
	}

	// A full buffer must fail the push so the caller can enqueue.
	assert.False(t, r.Push("alice", models.Push{Sender: "bob", Body: "overflow"}))
}

func TestDetachChannel(t *testing.T) {
	r := newRegistry(time.Hour)

	token, err := r.Create("alice")
	require.NoError(t, err)
	ch, err := r.AttachChannel(token)
	require.NoError(t, err)

	r.DetachChannel(token)
	_, open := <-ch
	assert.False(t, open)

	// Detaching does not revoke the session itself.
	_, err = r.Validate(token)
	assert.NoError(t, err)

	r.DetachChannel(token)
}
