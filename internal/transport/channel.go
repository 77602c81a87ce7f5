package transport

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownChannelOrder = errors.New("transport: unknown channel order")

// ChannelOrder is the delivery mode negotiated for a channel.
type ChannelOrder int

const (
	OrderUnordered ChannelOrder = iota
	OrderOrdered
)

func (o ChannelOrder) String() string {
	switch o {
	case OrderUnordered:
		return "unordered"
	case OrderOrdered:
		return "ordered"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

func ParseChannelOrder(raw string) (ChannelOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "unordered":
		return OrderUnordered, nil
	case "ordered":
		return OrderOrdered, nil
	default:
		return OrderUnordered, fmt.Errorf("%w: %q", ErrUnknownChannelOrder, raw)
	}
}

func (o ChannelOrder) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *ChannelOrder) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelOrder(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Endpoint identifies one side of a channel.
type Endpoint struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id"`
}

// Key returns the "{port}-{channel}" identity of the endpoint.
func (e Endpoint) Key() string {
	return e.PortID + "-" + e.ChannelID
}

func (e Endpoint) String() string {
	return e.Key()
}

// Channel is an established link. Endpoint is local, CounterpartyEndpoint remote.
type Channel struct {
	Endpoint             Endpoint     `json:"endpoint"`
	CounterpartyEndpoint Endpoint     `json:"counterparty_endpoint"`
	Order                ChannelOrder `json:"order"`
	Version              string       `json:"version"`
	ConnectionID         string       `json:"connection_id"`
}

// Counterparty returns the same channel seen from the remote side.
func (c Channel) Counterparty(connectionID string) Channel {
	return Channel{
		Endpoint:             c.CounterpartyEndpoint,
		CounterpartyEndpoint: c.Endpoint,
		Order:                c.Order,
		Version:              c.Version,
		ConnectionID:         connectionID,
	}
}
