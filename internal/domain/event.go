package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventType classifies a normalized hub event.
type EventType string

const (
	EventCastAdd            EventType = "CAST_ADD"
	EventCastRemove         EventType = "CAST_REMOVE"
	EventReactionAdd        EventType = "REACTION_ADD"
	EventReactionRemove     EventType = "REACTION_REMOVE"
	EventLinkAdd            EventType = "LINK_ADD"
	EventLinkRemove         EventType = "LINK_REMOVE"
	EventVerificationAdd    EventType = "VERIFICATION_ADD"
	EventVerificationRemove EventType = "VERIFICATION_REMOVE"
	EventProfileUpdate      EventType = "PROFILE_UPDATE"
	EventUsernameProof      EventType = "USERNAME_PROOF"

	// Non-merge hub event classes. The ingestion path subscribes to merge
	// events only, so these appear only when a hub sends them regardless.
	EventMessagePruned  EventType = "MESSAGE_PRUNED"
	EventMessageRevoked EventType = "MESSAGE_REVOKED"

	EventUnknown EventType = "UNKNOWN"
)

// Hub message type codes.
const (
	MessageTypeCastAdd            int32 = 1
	MessageTypeCastRemove         int32 = 2
	MessageTypeReactionAdd        int32 = 3
	MessageTypeReactionRemove     int32 = 4
	MessageTypeLinkAdd            int32 = 5
	MessageTypeLinkRemove         int32 = 6
	MessageTypeVerificationAdd    int32 = 7
	MessageTypeVerificationRemove int32 = 8
	MessageTypeUserDataAdd        int32 = 11
	MessageTypeUsernameProof      int32 = 12
)

var eventTypes = []EventType{
	EventCastAdd,
	EventCastRemove,
	EventReactionAdd,
	EventReactionRemove,
	EventLinkAdd,
	EventLinkRemove,
	EventVerificationAdd,
	EventVerificationRemove,
	EventProfileUpdate,
	EventUsernameProof,
	EventMessagePruned,
	EventMessageRevoked,
	EventUnknown,
}

// EventTypes returns every known event type, UNKNOWN last.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// EventTypeFromMessageCode maps a hub message type code to its event type.
// Codes without a mapping are UNKNOWN.
func EventTypeFromMessageCode(code int32) EventType {
	switch code {
	case MessageTypeCastAdd:
		return EventCastAdd
	case MessageTypeCastRemove:
		return EventCastRemove
	case MessageTypeReactionAdd:
		return EventReactionAdd
	case MessageTypeReactionRemove:
		return EventReactionRemove
	case MessageTypeLinkAdd:
		return EventLinkAdd
	case MessageTypeLinkRemove:
		return EventLinkRemove
	case MessageTypeVerificationAdd:
		return EventVerificationAdd
	case MessageTypeVerificationRemove:
		return EventVerificationRemove
	case MessageTypeUserDataAdd:
		return EventProfileUpdate
	case MessageTypeUsernameProof:
		return EventUsernameProof
	default:
		return EventUnknown
	}
}

// ParseEventType parses an event type name (case-insensitive) or a hub
// message type code.
func ParseEventType(s string) (EventType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty event type")
	}
	if code, err := strconv.ParseInt(s, 10, 32); err == nil {
		t := EventTypeFromMessageCode(int32(code))
		if t == EventUnknown {
			return "", fmt.Errorf("unknown event type code %d", code)
		}
		return t, nil
	}
	upper := EventType(strings.ToUpper(s))
	for _, t := range eventTypes {
		if t == upper {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is a normalized hub event. Values are never modified after the
// decoder produces them; slices and pointers are shared read-only.
type Event struct {
	// SequenceID is the hub-assigned event id. It defines the total order.
	SequenceID uint64 `json:"hubEventId"`

	// Hash is the content-addressed message hash (0x-prefixed hex).
	Hash string `json:"hash"`

	// FID is the originator id.
	FID uint64 `json:"fid"`

	Type EventType `json:"type"`

	// MessageType is the raw hub message type code, kept so that events of
	// types this build does not know survive persistence verbatim.
	MessageType int32 `json:"messageType"`

	// Timestamp is Unix seconds.
	Timestamp uint64 `json:"timestamp"`

	Description string `json:"description"`

	// Raw is the original hub record.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Cast-only fields.
	Mentions   []uint64 `json:"mentions,omitempty"`
	ParentFID  *uint64  `json:"parentFid,omitempty"`
	ParentHash *string  `json:"parentHash,omitempty"`
	ParentURL  *string  `json:"parentUrl,omitempty"`
}

// IsCast reports whether the event is a cast add or remove.
func (e Event) IsCast() bool {
	return e.Type == EventCastAdd || e.Type == EventCastRemove
}
