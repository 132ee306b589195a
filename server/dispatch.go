package server

import (
	"encoding/json"

	"relay/models"
	"relay/protocol"
)

// dispatch maps an action to its handler. The action set is a closed
// enumeration; anything outside it is rejected here. Session-scoped
// handlers resolve the token before touching storage, so an invalid
// session never causes a partial mutation.
func (s *Server) dispatch(c *client, env protocol.Envelope) protocol.Envelope {
	switch env.Action {
	case protocol.ActionCreateAccount:
		return s.handleCreateAccount(env)
	case protocol.ActionLogin:
		return s.handleLogin(env)
	case protocol.ActionListen:
		return s.handleListen(c, env)
	case protocol.ActionSendMessage:
		return s.handleSendMessage(env)
	case protocol.ActionReadMessages:
		return s.handleReadMessages(env)
	case protocol.ActionListAccounts:
		return s.handleListAccounts(env)
	case protocol.ActionDeleteMessages:
		return s.handleDeleteMessages(env)
	case protocol.ActionDeleteAccount:
		return s.handleDeleteAccount(env)
	case protocol.ActionLogout:
		return s.handleLogout(env)
	default:
		return protocol.Failure(env.Action, "Invalid request")
	}
}

// decodeData unmarshals a request payload, tolerating an absent data
// field for actions whose fields are all optional.
func decodeData(env protocol.Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, v)
}

func protocolPushEnvelope(push models.Push) protocol.Envelope {
	payload, _ := json.Marshal(protocol.ReceiveMessagePayload{
		Sender:  push.Sender,
		Message: push.Body,
	})
	return protocol.Envelope{Action: protocol.ActionReceiveMessage, Data: payload}
}
