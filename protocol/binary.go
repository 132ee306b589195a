package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// BinaryCodec packs the envelope into a length-prefixed frame:
//
//	[total_length]:[action_code][status_code][error_len]:[error][data]
//
// total_length and error_len are ASCII decimals; action_code is the one-byte
// Action value; status_code is one byte (absent for requests); data is the
// JSON payload carried as an opaque length-implied trailer.
type BinaryCodec struct{}

const (
	statusAbsentByte  = 0x00
	statusSuccessByte = 0x01
	statusErrorByte   = 0x02
)

// maxFrameLen bounds a declared frame so a corrupt length prefix cannot
// make the reader allocate without limit.
const maxFrameLen = 1 << 20

func (BinaryCodec) Name() string { return "binary" }

func (BinaryCodec) Encode(env Envelope) ([]byte, error) {
	statusByte := byte(statusAbsentByte)
	switch env.Status {
	case "":
	case StatusSuccess:
		statusByte = statusSuccessByte
	case StatusError:
		statusByte = statusErrorByte
	default:
		return nil, fmt.Errorf("unknown status %q", env.Status)
	}

	body := make([]byte, 0, 2+len(env.Error)+len(env.Data)+8)
	body = append(body, byte(env.Action), statusByte)
	body = strconv.AppendInt(body, int64(len(env.Error)), 10)
	body = append(body, ':')
	body = append(body, env.Error...)
	body = append(body, env.Data...)

	frame := strconv.AppendInt(nil, int64(len(body)), 10)
	frame = append(frame, ':')
	return append(frame, body...), nil
}

func (BinaryCodec) Decode(r *bufio.Reader) (Envelope, error) {
	total, err := readLength(r)
	if err != nil {
		return Envelope{}, err
	}
	if total < 2 || total > maxFrameLen {
		return Envelope{}, fmt.Errorf("%w: frame length %d out of range", ErrDecode, total)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}

	env := Envelope{Action: Action(body[0])}
	switch body[1] {
	case statusAbsentByte:
	case statusSuccessByte:
		env.Status = StatusSuccess
	case statusErrorByte:
		env.Status = StatusError
	default:
		return Envelope{}, fmt.Errorf("%w: unknown status code %d", ErrDecode, body[1])
	}

	rest := body[2:]
	sep := -1
	for i, b := range rest {
		if b == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return Envelope{}, fmt.Errorf("%w: missing error length separator", ErrDecode)
	}
	errLen, err := strconv.Atoi(string(rest[:sep]))
	if err != nil || errLen < 0 || sep+1+errLen > len(rest) {
		return Envelope{}, fmt.Errorf("%w: bad error length", ErrDecode)
	}

	rest = rest[sep+1:]
	env.Error = string(rest[:errLen])
	if data := rest[errLen:]; len(data) > 0 {
		env.Data = append([]byte(nil), data...)
	}
	return env, nil
}

// readLength consumes the ASCII decimal length prefix up to its ':'.
func readLength(r *bufio.Reader) (int, error) {
	var digits []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == ':' {
			break
		}
		if b < '0' || b > '9' || len(digits) > 9 {
			return 0, fmt.Errorf("%w: bad length prefix", ErrDecode)
		}
		digits = append(digits, b)
	}
	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: empty length prefix", ErrDecode)
	}
	return strconv.Atoi(string(digits))
}
