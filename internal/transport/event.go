package transport

// Attribute is one key/value pair on an Event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is an observability record emitted by a callback.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// NewEvent creates an event of the given type.
func NewEvent(eventType string) Event {
	return Event{Type: eventType}
}

// With returns a copy of e with one more attribute.
func (e Event) With(key, value string) Event {
	attrs := make([]Attribute, len(e.Attributes), len(e.Attributes)+1)
	copy(attrs, e.Attributes)
	e.Attributes = append(attrs, Attribute{Key: key, Value: value})
	return e
}

// Attr returns the first attribute value for key.
func (e Event) Attr(key string) (string, bool) {
	for _, attr := range e.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// Response is what a successful callback hands back to the transport.
type Response struct {
	Packets []OutboundPacket
	Events  []Event
}
