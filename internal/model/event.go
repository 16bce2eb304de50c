package model

import "encoding/json"

// EventTag enumerates the analytics event shapes the wire payload may carry.
type EventTag string

const (
	TagTrack    EventTag = "track"
	TagPage     EventTag = "page"
	TagIdentify EventTag = "identify"
	TagGroup    EventTag = "group"
	TagAlias    EventTag = "alias"
	TagScreen   EventTag = "screen"
)

// Event is the analytics event body carried by a Message and passed through
// the function chain. Top-level fields beyond the well-known ones round-trip
// via Extra (see UnmarshalJSON/MarshalJSON), and Properties/Context hold
// arbitrary keys, so that builtins and UDFs can add or rewrite keys without
// the core needing to know their shape.
type Event struct {
	Type           EventTag               `json:"type"`
	MessageID      string                 `json:"messageId"`
	UserID         string                 `json:"userId,omitempty"`
	AnonymousID    string                 `json:"anonymousId,omitempty"`
	GroupID        string                 `json:"groupId,omitempty"`
	Timestamp      string                 `json:"timestamp,omitempty"`
	Properties     map[string]any         `json:"properties,omitempty"`
	Context        map[string]any         `json:"context,omitempty"`
	Extra          map[string]any         `json:"-"`
}

// Clone returns a deep-enough copy: top-level maps are copied so that a
// step mutating Properties/Context does not alter sibling events produced
// by an earlier fan-out.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Properties = cloneMap(e.Properties)
	clone.Context = cloneMap(e.Context)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UnmarshalJSON preserves unknown top-level keys in Extra while populating
// the well-known fields, so the chain can re-marshal an event without
// silently dropping caller-supplied fields it doesn't model.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Event(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"type": true, "messageId": true, "userId": true, "anonymousId": true,
		"groupId": true, "timestamp": true, "properties": true, "context": true,
	}
	for k, v := range raw {
		if known[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = map[string]any{}
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			e.Extra[k] = val
		}
	}
	return nil
}

// MarshalJSON re-emits Extra fields alongside the well-known ones.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	base, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = b
	}
	return json.Marshal(merged)
}

// Geo is the ingest-time geo enrichment captured on a Message.
type Geo struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
}

// Origin carries the ingest-time origin-domain hint.
type Origin struct {
	Domain string `json:"domain,omitempty"`
}

// IngestMessage is the decoded bus payload.
type IngestMessage struct {
	ConnectionID string              `json:"connectionId"`
	MessageID    string              `json:"messageId"`
	Type         EventTag            `json:"type"`
	HTTPPayload  json.RawMessage     `json:"httpPayload"`
	HTTPHeaders  map[string][]string `json:"httpHeaders,omitempty"`
	Geo          *Geo                `json:"geo,omitempty"`
	Origin       *Origin             `json:"origin,omitempty"`
}

// SourceContext describes the originating stream in an EventContext.
type SourceContext struct {
	ID     string `json:"id"`
	Domain string `json:"domain,omitempty"`
}

// DestinationContext describes the resolved destination in an EventContext.
type DestinationContext struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
	CredentialsHash string `json:"credentialsHash,omitempty"`
}

// ConnectionContext describes the connection in an EventContext.
type ConnectionContext struct {
	ID      string         `json:"id"`
	Mode    string         `json:"mode,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// EventContext is the per-message context assembled by the message handler.
// Every field it carries is visible to UDFs; the privileged SystemContext
// travels separately in FullContext.System.
type EventContext struct {
	Headers     map[string][]string
	Geo         *Geo
	Retries     int
	Source      SourceContext
	Destination DestinationContext
	Connection  ConnectionContext
}

// Reduced returns the subset of the EventContext exposed to UDF code:
// geo, headers, source, destination, connection, and retries.
func (c EventContext) Reduced() EventContext {
	return EventContext{
		Headers:     c.Headers,
		Geo:         c.Geo,
		Retries:     c.Retries,
		Source:      c.Source,
		Destination: c.Destination,
		Connection:  c.Connection,
	}
}
