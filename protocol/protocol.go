// Package protocol defines the wire envelope shared by both encodings and
// the codecs that frame it. The dispatcher and all business logic see only
// decoded envelopes; which codec framed them is invisible above this
// package.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrDecode = errors.New("malformed request")

// Action is a closed enumeration of request types. The small integer
// values double as the action codes of the binary framing.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionCreateAccount
	ActionLogin
	ActionListen
	ActionSendMessage
	ActionReadMessages
	ActionListAccounts
	ActionDeleteMessages
	ActionDeleteAccount
	ActionLogout
	ActionReceiveMessage
)

var actionNames = map[Action]string{
	ActionUnknown:        "unknown",
	ActionCreateAccount:  "create_account",
	ActionLogin:          "login",
	ActionListen:         "listen",
	ActionSendMessage:    "send_message",
	ActionReadMessages:   "read_messages",
	ActionListAccounts:   "list_accounts",
	ActionDeleteMessages: "delete_messages",
	ActionDeleteAccount:  "delete_account",
	ActionLogout:         "logout",
	ActionReceiveMessage: "receive_message",
}

var actionCodes = func() map[string]Action {
	codes := make(map[string]Action, len(actionNames))
	for action, name := range actionNames {
		codes[name] = action
	}
	return codes
}()

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

func (a Action) MarshalJSON() ([]byte, error) {
	name, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("unknown action %d", uint8(a))
	}
	return json.Marshal(name)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	// An unrecognized name decodes to ActionUnknown; the dispatcher
	// rejects it with a structured error rather than failing the frame.
	*a = actionCodes[name]
	return nil
}

// Response statuses. Requests carry no status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the logical request/response shape carried by every codec.
type Envelope struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	Status string          `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Success builds a success response with an optional payload.
func Success(action Action, payload interface{}) Envelope {
	env := Envelope{Action: action, Status: StatusSuccess}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			env.Data = data
		}
	}
	return env
}

// Failure builds an error response.
func Failure(action Action, message string) Envelope {
	return Envelope{Action: action, Status: StatusError, Error: message}
}

// Codec frames envelopes onto a byte stream. Implementations must be
// usable from one reader goroutine and one writer goroutine concurrently;
// Encode returns a complete frame so callers can serialize writes.
type Codec interface {
	Encode(env Envelope) ([]byte, error)
	Decode(r *bufio.Reader) (Envelope, error)
	Name() string
}

// New returns the codec registered under name, defaulting to JSON.
func New(name string) Codec {
	if name == "binary" {
		return BinaryCodec{}
	}
	return JSONCodec{}
}
