package hub

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

var userDataLabels = map[int32]string{
	1: "pfp",
	2: "display",
	3: "bio",
	5: "url",
	6: "username",
	7: "location",
	8: "twitter",
	9: "github",
}

// describe renders the one-line summary of a message. It depends only on its
// arguments.
func describe(t domain.EventType, msg *message, deleted []message) string {
	data := msg.Data
	fid := data.FID
	hash := shortHash(msg.Hash)

	switch t {
	case domain.EventCastAdd:
		return strings.TrimSpace(fmt.Sprintf("fid:%d casted cast:%s %s", fid, hash, embedMentions(data.CastAddBody)))

	case domain.EventCastRemove:
		// Without the deleted cast, name the cast that was removed.
		var text string
		if len(deleted) > 0 && deleted[0].Data != nil {
			text = embedMentions(deleted[0].Data.CastAddBody)
		} else if data.CastRemoveBody != nil {
			text = shortHash(data.CastRemoveBody.TargetHash)
		}
		return strings.TrimSpace(fmt.Sprintf("fid:%d deleted cast:%s %s", fid, hash, text))

	case domain.EventReactionAdd, domain.EventReactionRemove:
		body := data.ReactionBody
		kind := "like"
		if body.Type.Code == 2 {
			kind = "recast"
		}
		target := "cast:"
		if body.TargetCastID != nil {
			target += shortHash(body.TargetCastID.Hash)
		} else if body.TargetURL != "" {
			target = "url:" + body.TargetURL
		}
		if t == domain.EventReactionAdd {
			return fmt.Sprintf("fid:%d reaction:%s %s", fid, kind, target)
		}
		return fmt.Sprintf("fid:%d removed reaction:%s %s", fid, kind, target)

	case domain.EventLinkAdd:
		return fmt.Sprintf("fid:%d link:%s fid:%d", fid, data.LinkBody.Type, data.LinkBody.TargetFID)

	case domain.EventLinkRemove:
		return fmt.Sprintf("fid:%d removed link:%s fid:%d", fid, data.LinkBody.Type, data.LinkBody.TargetFID)

	case domain.EventVerificationAdd:
		body := verificationAdd(data)
		return fmt.Sprintf("fid:%d verified addr:%s on block:%s", fid, shortHash(body.Address), shortHash(body.BlockHash))

	case domain.EventVerificationRemove:
		return fmt.Sprintf("fid:%d removed addr:%s verification", fid, shortHash(data.VerificationRemoveBody.Address))

	case domain.EventProfileUpdate:
		body := data.UserDataBody
		label, ok := userDataLabels[body.Type.Code]
		if !ok {
			label = "field:" + body.Type.Token
		}
		return fmt.Sprintf("fid:%d updated %s to %s", fid, label, body.Value)

	case domain.EventUsernameProof:
		return fmt.Sprintf("fid:%d proved username %s", fid, data.UsernameProofBody.Name)

	case domain.EventMessagePruned:
		return fmt.Sprintf("fid:%d message pruned %s:%s", fid, messageNoun(data.Type.Code), hash)

	case domain.EventMessageRevoked:
		return fmt.Sprintf("fid:%d message revoked %s:%s", fid, messageNoun(data.Type.Code), hash)

	default:
		return fmt.Sprintf("unknown event type: %s, fid:%d hash:%s", data.Type.Token, fid, hash)
	}
}

func messageNoun(code int32) string {
	switch domain.EventTypeFromMessageCode(code) {
	case domain.EventCastAdd, domain.EventCastRemove:
		return "cast"
	case domain.EventReactionAdd, domain.EventReactionRemove:
		return "reaction"
	case domain.EventLinkAdd, domain.EventLinkRemove:
		return "link"
	case domain.EventVerificationAdd, domain.EventVerificationRemove:
		return "verification"
	default:
		return "message"
	}
}

// shortHash returns the first 8 hex characters of a 0x-prefixed hash.
func shortHash(h string) string {
	h = strings.TrimPrefix(h, "0x")
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// embedMentions splices "fid:{id}" markers into the cast text at the byte
// offsets given by mentionsPositions. The marker uses the same fid: prefix as
// the author so descriptions read uniformly; it stands for the originator
// marker clients resolve to a username. Splices run from the highest offset
// to the lowest so that earlier offsets stay valid.
func embedMentions(body *castAddBody) string {
	if body == nil {
		return ""
	}
	n := min(len(body.Mentions), len(body.MentionsPositions))
	if n == 0 {
		return body.Text
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := body.MentionsPositions[order[a]], body.MentionsPositions[order[b]]
		if pa != pb {
			return pa > pb
		}
		return order[a] > order[b]
	})

	text := body.Text
	for _, i := range order {
		pos := max(0, min(body.MentionsPositions[i], len(body.Text)))
		text = fmt.Sprintf("%sfid:%d%s", text[:pos], body.Mentions[i], text[pos:])
	}
	return text
}
