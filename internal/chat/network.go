package chat

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownNetwork = errors.New("chat: unknown network id")

// NetworkID tags a message with the chain it originated on.
type NetworkID uint8

const (
	NetworkUnknown NetworkID = iota
	NetworkNeutron
	NetworkStargaze
	NetworkKujira
	NetworkNois
)

var networkNames = map[NetworkID]string{
	NetworkNeutron:  "neutron",
	NetworkStargaze: "stargaze",
	NetworkKujira:   "kujira",
	NetworkNois:     "nois",
}

// AllNetworks returns every participating network in declaration order.
func AllNetworks() []NetworkID {
	return []NetworkID{NetworkNeutron, NetworkStargaze, NetworkKujira, NetworkNois}
}

func (n NetworkID) String() string {
	if name, ok := networkNames[n]; ok {
		return name
	}
	return fmt.Sprintf("network(%d)", uint8(n))
}

// Valid reports whether n is one of the declared networks.
func (n NetworkID) Valid() bool {
	_, ok := networkNames[n]
	return ok
}

// ParseNetworkID resolves the lowercase network name.
func ParseNetworkID(raw string) (NetworkID, error) {
	name := strings.TrimSpace(raw)
	for id, candidate := range networkNames {
		if candidate == name {
			return id, nil
		}
	}
	return NetworkUnknown, fmt.Errorf("%w: %q", ErrUnknownNetwork, raw)
}

func (n NetworkID) MarshalText() ([]byte, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, uint8(n))
	}
	return []byte(n.String()), nil
}

func (n *NetworkID) UnmarshalText(text []byte) error {
	id, err := ParseNetworkID(string(text))
	if err != nil {
		return err
	}
	*n = id
	return nil
}
