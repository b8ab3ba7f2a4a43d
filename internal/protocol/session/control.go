package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	controlTypeHello = "setl.hello"

	maxControlLine = 4 * 1024
)

var (
	ErrInvalidHello           = errors.New("session: invalid hello")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Hello is the first line a dialing rank writes on a fresh connection.
type Hello struct {
	Rank int `json:"rank"`
	Size int `json:"size"`
}

func (h Hello) Validate() error {
	if h.Size < 1 {
		return fmt.Errorf("%w: size %d", ErrInvalidHello, h.Size)
	}
	if h.Rank < 0 || h.Rank >= h.Size {
		return fmt.Errorf("%w: rank %d of %d", ErrInvalidHello, h.Rank, h.Size)
	}
	return nil
}

type controlEnvelope struct {
	Type  string `json:"type"`
	Hello *Hello `json:"hello,omitempty"`
}

func WriteHello(w io.Writer, h Hello) error {
	if err := h.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type:  controlTypeHello,
		Hello: &h,
	})
}

// ReadHello reads one hello line. Bytes after the newline stay buffered in r
// and belong to the frame stream.
func ReadHello(r *bufio.Reader) (Hello, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != controlTypeHello || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidHello, env.Type)
	}
	if err := env.Hello.Validate(); err != nil {
		return Hello{}, err
	}
	return *env.Hello, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) || len(line) > maxControlLine {
		return controlEnvelope{}, ErrControlMessageTooLarge
	}
	if err != nil {
		return controlEnvelope{}, err
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
