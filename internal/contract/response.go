package contract

import (
	"strconv"

	"github.com/danmuck/relaychat/internal/transport"
)

const (
	AttrContractVersion = "contract_version"
	AttrContractKind    = "contract_kind"
)

// ResponseBuilder assembles one callback's transport.Response. Every event
// gets the contract identity attributes, and repeated event types within
// one response are suffixed "-1", "-2", ...
type ResponseBuilder struct {
	resp   transport.Response
	common []transport.Attribute
	counts map[string]int
	mute   bool
}

func NewResponseBuilder(info Info) *ResponseBuilder {
	return &ResponseBuilder{
		common: []transport.Attribute{
			{Key: AttrContractVersion, Value: info.Version},
			{Key: AttrContractKind, Value: string(info.Kind)},
		},
		counts: make(map[string]int),
	}
}

// NewMutedResponseBuilder drops every event it is given.
func NewMutedResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{mute: true, counts: make(map[string]int)}
}

func (b *ResponseBuilder) AddEvent(event transport.Event) {
	if b.mute {
		return
	}
	for _, attr := range b.common {
		event = event.With(attr.Key, attr.Value)
	}
	count := b.counts[event.Type]
	b.counts[event.Type] = count + 1
	if count > 0 {
		event.Type = event.Type + "-" + strconv.Itoa(count)
	}
	b.resp.Events = append(b.resp.Events, event)
}

func (b *ResponseBuilder) AddPacket(packet transport.OutboundPacket) {
	b.resp.Packets = append(b.resp.Packets, packet)
}

func (b *ResponseBuilder) Response() transport.Response {
	return b.resp
}
