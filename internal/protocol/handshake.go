package protocol

import (
	"fmt"

	"github.com/danmuck/relaychat/internal/transport"
)

// ChannelVersion is the application version both sides must announce.
const ChannelVersion = "relaychat-1"

// ValidateHandshake accepts only unordered channels and, once the
// counterparty version is known, only matching versions. An empty
// counterparty version is treated as not yet announced.
func ValidateHandshake(channel transport.Channel, counterpartyVersion string) error {
	if channel.Order != transport.OrderUnordered {
		return fmt.Errorf("%w: got %s", ErrOrderingNotSupported, channel.Order)
	}
	if counterpartyVersion != "" && counterpartyVersion != channel.Version {
		return fmt.Errorf(
			"%w: expected %q got %q",
			ErrVersionMismatch,
			channel.Version,
			counterpartyVersion,
		)
	}
	return nil
}
