package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionJSONNames(t *testing.T) {
	data, err := json.Marshal(ActionSendMessage)
	require.NoError(t, err)
	assert.Equal(t, `"send_message"`, string(data))

	var action Action
	require.NoError(t, json.Unmarshal([]byte(`"read_messages"`), &action))
	assert.Equal(t, ActionReadMessages, action)

	// An unrecognized name decodes to the zero action for the
	// dispatcher to reject, not a decode failure.
	require.NoError(t, json.Unmarshal([]byte(`"no_such_action"`), &action))
	assert.Equal(t, ActionUnknown, action)
}

func roundTrip(t *testing.T, codec Codec, env Envelope) Envelope {
	t.Helper()
	frame, err := codec.Encode(env)
	require.NoError(t, err)

	decoded, err := codec.Decode(bufio.NewReader(bytes.NewReader(frame)))
	require.NoError(t, err)
	return decoded
}

func TestJSONCodec(t *testing.T) {
	request := Envelope{
		Action: ActionLogin,
		Data:   json.RawMessage(`{"username":"alice","password":"pw"}`),
	}
	decoded := roundTrip(t, JSONCodec{}, request)
	assert.Equal(t, ActionLogin, decoded.Action)
	assert.JSONEq(t, `{"username":"alice","password":"pw"}`, string(decoded.Data))
	assert.Empty(t, decoded.Status)

	failure := Failure(ActionLogin, "Invalid credentials")
	decoded = roundTrip(t, JSONCodec{}, failure)
	assert.Equal(t, StatusError, decoded.Status)
	assert.Equal(t, "Invalid credentials", decoded.Error)
}

func TestJSONCodecMalformed(t *testing.T) {
	_, err := JSONCodec{}.Decode(bufio.NewReader(bytes.NewReader([]byte("not json\n"))))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestJSONCodecStream(t *testing.T) {
	codec := JSONCodec{}
	first, err := codec.Encode(Success(ActionLogout, nil))
	require.NoError(t, err)
	second, err := codec.Encode(Failure(ActionLogout, "Invalid session"))
	require.NoError(t, err)

	// Two frames back to back decode in order off one reader.
	r := bufio.NewReader(bytes.NewReader(append(first, second...)))
	env, err := codec.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, env.Status)
	env, err = codec.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, StatusError, env.Status)
}

func TestBinaryCodec(t *testing.T) {
	request := Envelope{
		Action: ActionSendMessage,
		Data:   json.RawMessage(`{"recipient":"bob","message":"hi"}`),
	}
	decoded := roundTrip(t, BinaryCodec{}, request)
	assert.Equal(t, ActionSendMessage, decoded.Action)
	assert.Equal(t, string(request.Data), string(decoded.Data))
	assert.Empty(t, decoded.Status)
	assert.Empty(t, decoded.Error)

	failure := Failure(ActionSendMessage, "Recipient does not exist")
	decoded = roundTrip(t, BinaryCodec{}, failure)
	assert.Equal(t, StatusError, decoded.Status)
	assert.Equal(t, "Recipient does not exist", decoded.Error)
	assert.Empty(t, decoded.Data)

	// An error whose text contains the payload separator still frames
	// cleanly because the error length is explicit.
	tricky := Failure(ActionLogin, "weird: error {with} bytes")
	decoded = roundTrip(t, BinaryCodec{}, tricky)
	assert.Equal(t, "weird: error {with} bytes", decoded.Error)
}

func TestBinaryCodecMalformed(t *testing.T) {
	for name, frame := range map[string][]byte{
		"junk prefix":   []byte("xx:abcd"),
		"empty prefix":  []byte(":abcd"),
		"short frame":   []byte("1:a"),
		"huge length":   []byte("99999999999:"),
		"bad error len": {'4', ':', 1, 1, 'x', ':'},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := BinaryCodec{}.Decode(bufio.NewReader(bytes.NewReader(frame)))
			assert.Error(t, err)
		})
	}
}

func TestCodecsAgree(t *testing.T) {
	// Both encodings must decode to the same logical envelope.
	env := Success(ActionListAccounts, ListAccountsResponse{
		Accounts:   []string{"alice", "andy"},
		Page:       1,
		TotalPages: 1,
	})

	fromJSON := roundTrip(t, JSONCodec{}, env)
	fromBinary := roundTrip(t, BinaryCodec{}, env)

	assert.Equal(t, fromJSON.Action, fromBinary.Action)
	assert.Equal(t, fromJSON.Status, fromBinary.Status)
	assert.Equal(t, fromJSON.Error, fromBinary.Error)
	assert.JSONEq(t, string(fromJSON.Data), string(fromBinary.Data))
}

func TestNewCodec(t *testing.T) {
	assert.Equal(t, "binary", New("binary").Name())
	assert.Equal(t, "json", New("json").Name())
	assert.Equal(t, "json", New("").Name())
}
