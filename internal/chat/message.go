package chat

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownOrder = errors.New("chat: unknown order")

// ChatMessage is one immutable chat line. Author is scoped to Origin.
type ChatMessage struct {
	Author string    `json:"author"`
	Origin NetworkID `json:"origin"`
	Text   string    `json:"text"`
}

// LoggedMessage is a ChatMessage stored in one instance's log.
// LocalID is only comparable within that instance.
type LoggedMessage struct {
	Msg     ChatMessage `json:"msg"`
	LocalID uint64      `json:"local_id"`
}

// Order selects log pagination direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// ParseOrder accepts asc|ascending|desc|descending; empty means Ascending.
func ParseOrder(raw string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("%w: %q", ErrUnknownOrder, raw)
	}
}

func (o Order) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Order) UnmarshalText(text []byte) error {
	parsed, err := ParseOrder(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
