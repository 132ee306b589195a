package server

import (
	"errors"

	"relay/protocol"
	"relay/storage"
)

func (s *Server) handleCreateAccount(env protocol.Envelope) protocol.Envelope {
	var req protocol.CreateAccountRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}
	if req.Username == "" || req.Password == "" {
		return protocol.Failure(env.Action, "Missing username or password")
	}

	if err := s.storage.CreateAccount(req.Username, req.Password); err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			return protocol.Failure(env.Action, "Username already exists")
		}
		s.log.Error().Err(err).Msg("create account failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	s.log.Info().Str("username", req.Username).Msg("account created")
	return protocol.Success(env.Action, nil)
}

func (s *Server) handleLogin(env protocol.Envelope) protocol.Envelope {
	var req protocol.LoginRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}
	if req.Username == "" || req.Password == "" {
		return protocol.Failure(env.Action, "Missing username or password")
	}

	if err := s.storage.VerifyCredentials(req.Username, req.Password); err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			s.log.Debug().Str("username", req.Username).Msg("login rejected")
			return protocol.Failure(env.Action, "Invalid credentials")
		}
		s.log.Error().Err(err).Msg("credential check failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	token, err := s.registry.Create(req.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("session create failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	unread, err := s.storage.UnreadCount(req.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("unread count failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	s.log.Info().Str("username", req.Username).Int("unread", unread).Msg("login")
	return protocol.Success(env.Action, protocol.LoginResponse{
		SessionToken:       token,
		UnreadMessageCount: unread,
	})
}

// handleListen authenticates like login and additionally binds a live
// channel to the new session, so the server can push messages to this
// connection without polling.
func (s *Server) handleListen(c *client, env protocol.Envelope) protocol.Envelope {
	var req protocol.ListenRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}
	if req.Username == "" || req.Password == "" {
		return protocol.Failure(env.Action, "Missing username or password")
	}

	if err := s.storage.VerifyCredentials(req.Username, req.Password); err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			return protocol.Failure(env.Action, "Invalid credentials")
		}
		s.log.Error().Err(err).Msg("credential check failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	token, err := s.registry.Create(req.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("session create failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	ch, err := s.registry.AttachChannel(token)
	if err != nil {
		return protocol.Failure(env.Action, "Invalid session")
	}
	// A repeated listen on the same connection supersedes the previous
	// channel; its writer winds down when the channel closes.
	if prev := c.getListenToken(); prev != "" {
		s.registry.DetachChannel(prev)
	}
	c.setListenToken(token)
	go s.pushWriter(c, req.Username, token, ch)

	s.log.Info().Str("username", req.Username).Msg("listen channel attached")
	return protocol.Success(env.Action, protocol.ListenResponse{SessionToken: token})
}

func (s *Server) handleSendMessage(env protocol.Envelope) protocol.Envelope {
	var req protocol.SendMessageRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}

	sender, err := s.registry.Validate(req.SessionToken)
	if err != nil {
		return protocol.Failure(env.Action, "Invalid session")
	}
	if req.Recipient == "" || req.Message == "" {
		return protocol.Failure(env.Action, "Missing recipient or message")
	}

	if err := s.routeMessage(sender, req.Recipient, req.Message); err != nil {
		if errors.Is(err, storage.ErrUnknownRecipient) {
			return protocol.Failure(env.Action, "Recipient does not exist")
		}
		s.log.Error().Err(err).Msg("message routing failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	return protocol.Success(env.Action, nil)
}

func (s *Server) handleReadMessages(env protocol.Envelope) protocol.Envelope {
	var req protocol.ReadMessagesRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}

	username, err := s.registry.Validate(req.SessionToken)
	if err != nil {
		return protocol.Failure(env.Action, "Invalid session")
	}

	count := 0 // absent count drains everything
	if req.Count != nil {
		count = *req.Count
	}

	msgs, remaining, err := s.storage.DrainMessages(username, count)
	if err != nil {
		s.log.Error().Err(err).Msg("drain failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	// An empty queue yields an empty list, not an error.
	unread := make([]protocol.UnreadMessage, 0, len(msgs))
	for _, m := range msgs {
		unread = append(unread, protocol.UnreadMessage{From: m.Sender, Message: m.Body})
	}

	return protocol.Success(env.Action, protocol.ReadMessagesResponse{
		UnreadMessages:       unread,
		RemainingUnreadCount: remaining,
	})
}

func (s *Server) handleListAccounts(env protocol.Envelope) protocol.Envelope {
	var req protocol.ListAccountsRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}

	if _, err := s.registry.Validate(req.SessionToken); err != nil {
		return protocol.Failure(env.Action, "Invalid session")
	}

	pattern := req.Pattern
	if pattern == "" {
		pattern = "*"
	}
	page := 1
	if req.Page != nil {
		page = *req.Page
	}
	pageSize := 10
	if req.PageSize != nil {
		pageSize = *req.PageSize
	}
	if page <= 0 || pageSize <= 0 {
		return protocol.Failure(env.Action, "Invalid page or page size")
	}

	accounts, totalPages, err := s.storage.ListAccounts(pattern, page, pageSize)
	if err != nil {
		s.log.Error().Err(err).Msg("list accounts failed")
		return protocol.Failure(env.Action, "Internal error")
	}
	if accounts == nil {
		accounts = []string{}
	}

	return protocol.Success(env.Action, protocol.ListAccountsResponse{
		Accounts:   accounts,
		Page:       page,
		TotalPages: totalPages,
	})
}

func (s *Server) handleDeleteMessages(env protocol.Envelope) protocol.Envelope {
	var req protocol.DeleteMessagesRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}

	username, err := s.registry.Validate(req.SessionToken)
	if err != nil {
		return protocol.Failure(env.Action, "Invalid session")
	}

	deleted, err := s.storage.DeleteMessages(username, req.NumToDelete)
	if err != nil {
		s.log.Error().Err(err).Msg("delete messages failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	return protocol.Success(env.Action, protocol.DeleteMessagesResponse{NumMessagesDeleted: deleted})
}

func (s *Server) handleDeleteAccount(env protocol.Envelope) protocol.Envelope {
	var req protocol.DeleteAccountRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}

	username, err := s.registry.Validate(req.SessionToken)
	if err != nil {
		return protocol.Failure(env.Action, "Invalid session")
	}

	// Revoke before the storage delete: a request racing this one sees
	// InvalidSession rather than a half-deleted account.
	s.registry.RevokeAllForUser(username)

	if err := s.storage.DeleteAccount(username); err != nil && !errors.Is(err, storage.ErrUnknownUser) {
		s.log.Error().Err(err).Msg("delete account failed")
		return protocol.Failure(env.Action, "Internal error")
	}

	s.log.Info().Str("username", username).Msg("account deleted")
	return protocol.Success(env.Action, nil)
}

func (s *Server) handleLogout(env protocol.Envelope) protocol.Envelope {
	var req protocol.LogoutRequest
	if err := decodeData(env, &req); err != nil {
		return protocol.Failure(env.Action, "Malformed request")
	}

	// Revocation is idempotent: logging out a token that is already
	// gone is still a success.
	s.registry.Revoke(req.SessionToken)
	return protocol.Success(env.Action, nil)
}
