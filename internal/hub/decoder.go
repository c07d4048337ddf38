package hub

import (
	"encoding/json"
	"fmt"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

// FarcasterEpoch is 2021-01-01T00:00:00Z in Unix seconds. Hub timestamps
// count seconds from it.
const FarcasterEpoch = 1609459200

// Decode validates a raw hub record and normalizes it. Records that match no
// known shape return an error wrapping domain.ErrSchemaMismatch. A valid
// envelope carrying a message type this build does not know is normalized
// as UNKNOWN rather than rejected.
func Decode(raw []byte) (domain.Event, error) {
	var ev hubEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("%w: unmarshal hub event: %v", domain.ErrSchemaMismatch, err)
	}

	msg, deleted, eventType, err := envelope(&ev)
	if err != nil {
		return domain.Event{}, err
	}
	data := msg.Data

	if eventType == "" {
		eventType = domain.EventTypeFromMessageCode(data.Type.Code)
		if err := validateBody(eventType, data); err != nil {
			return domain.Event{}, err
		}
	}

	out := domain.Event{
		SequenceID:  ev.ID,
		Hash:        msg.Hash,
		FID:         data.FID,
		Type:        eventType,
		MessageType: data.Type.Code,
		Timestamp:   data.Timestamp + FarcasterEpoch,
		Description: describe(eventType, msg, deleted),
		Raw:         append(json.RawMessage(nil), raw...),
	}

	switch eventType {
	case domain.EventCastAdd:
		applyCast(&out, data.CastAddBody)
	case domain.EventCastRemove:
		if len(deleted) > 0 && deleted[0].Data != nil {
			applyCast(&out, deleted[0].Data.CastAddBody)
		}
	}

	return out, nil
}

// envelope extracts the message of a hub event. The returned event type is
// set only for hub event classes that determine it on their own.
func envelope(ev *hubEvent) (*message, []message, domain.EventType, error) {
	var (
		msg       *message
		deleted   []message
		eventType domain.EventType
	)

	switch ev.Type.Code {
	case hubEventMergeMessage:
		if ev.MergeMessageBody == nil {
			return nil, nil, "", fmt.Errorf("%w: merge event %d without mergeMessageBody", domain.ErrSchemaMismatch, ev.ID)
		}
		msg = ev.MergeMessageBody.Message
		deleted = ev.MergeMessageBody.DeletedMessages
	case hubEventPruneMessage:
		if ev.PruneMessageBody == nil {
			return nil, nil, "", fmt.Errorf("%w: prune event %d without pruneMessageBody", domain.ErrSchemaMismatch, ev.ID)
		}
		msg = ev.PruneMessageBody.Message
		eventType = domain.EventMessagePruned
	case hubEventRevokeMessage:
		if ev.RevokeMessageBody == nil {
			return nil, nil, "", fmt.Errorf("%w: revoke event %d without revokeMessageBody", domain.ErrSchemaMismatch, ev.ID)
		}
		msg = ev.RevokeMessageBody.Message
		eventType = domain.EventMessageRevoked
	default:
		return nil, nil, "", fmt.Errorf("%w: unsupported hub event type %q", domain.ErrSchemaMismatch, ev.Type.Token)
	}

	if ev.ID == 0 {
		return nil, nil, "", fmt.Errorf("%w: hub event without id", domain.ErrSchemaMismatch)
	}
	if msg == nil || msg.Data == nil {
		return nil, nil, "", fmt.Errorf("%w: event %d has no message data", domain.ErrSchemaMismatch, ev.ID)
	}
	if msg.Hash == "" {
		return nil, nil, "", fmt.Errorf("%w: event %d message has no hash", domain.ErrSchemaMismatch, ev.ID)
	}
	if msg.Data.FID == 0 {
		return nil, nil, "", fmt.Errorf("%w: event %d message has no fid", domain.ErrSchemaMismatch, ev.ID)
	}
	if !msg.Data.Type.Set {
		return nil, nil, "", fmt.Errorf("%w: event %d message has no type", domain.ErrSchemaMismatch, ev.ID)
	}
	return msg, deleted, eventType, nil
}

// validateBody checks that the body required by the message type is present.
func validateBody(t domain.EventType, data *messageData) error {
	var ok bool
	switch t {
	case domain.EventCastAdd:
		ok = data.CastAddBody != nil
	case domain.EventCastRemove:
		ok = data.CastRemoveBody != nil
	case domain.EventReactionAdd, domain.EventReactionRemove:
		ok = data.ReactionBody != nil
	case domain.EventLinkAdd, domain.EventLinkRemove:
		ok = data.LinkBody != nil
	case domain.EventVerificationAdd:
		ok = verificationAdd(data) != nil
	case domain.EventVerificationRemove:
		ok = data.VerificationRemoveBody != nil
	case domain.EventProfileUpdate:
		ok = data.UserDataBody != nil
	case domain.EventUsernameProof:
		ok = data.UsernameProofBody != nil
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: %s message without its body", domain.ErrSchemaMismatch, t)
	}
	return nil
}

func verificationAdd(data *messageData) *verificationAddBody {
	if data.VerificationAddAddressBody != nil {
		return data.VerificationAddAddressBody
	}
	return data.VerificationAddEthAddressBody
}

func applyCast(out *domain.Event, body *castAddBody) {
	if body == nil {
		return
	}
	if len(body.Mentions) > 0 {
		out.Mentions = append([]uint64(nil), body.Mentions...)
	}
	if body.ParentCastID != nil {
		fid := body.ParentCastID.FID
		hash := body.ParentCastID.Hash
		out.ParentFID = &fid
		out.ParentHash = &hash
	}
	if body.ParentURL != nil && *body.ParentURL != "" {
		u := *body.ParentURL
		out.ParentURL = &u
	}
}
