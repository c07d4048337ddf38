package domain

import (
	"strconv"
)

// Topic is a routing key derived from an event.
type Topic string

// TopicAll matches every event.
const TopicAll Topic = "all"

func TypeTopic(t EventType) Topic {
	return Topic("type:" + string(t))
}

func OriginatorTopic(fid uint64) Topic {
	return Topic("originator:" + strconv.FormatUint(fid, 10))
}

func TypeOriginatorTopic(t EventType, fid uint64) Topic {
	return TypeTopic(t) + "+" + OriginatorTopic(fid)
}

func MentionTopic(fid uint64) Topic {
	return Topic("mention:" + strconv.FormatUint(fid, 10))
}

func ReplyToTopic(fid uint64) Topic {
	return Topic("reply-to:" + strconv.FormatUint(fid, 10))
}

// Topics returns the full topic set of an event, without duplicates. Mention
// and reply-to topics are derived for CAST_ADD only.
func Topics(e Event) []Topic {
	topics := []Topic{
		TopicAll,
		TypeTopic(e.Type),
		OriginatorTopic(e.FID),
		TypeOriginatorTopic(e.Type, e.FID),
	}
	if e.Type != EventCastAdd {
		return topics
	}

	seen := make(map[uint64]struct{}, len(e.Mentions))
	for _, fid := range e.Mentions {
		if _, ok := seen[fid]; ok {
			continue
		}
		seen[fid] = struct{}{}
		topics = append(topics, MentionTopic(fid))
	}
	if e.ParentFID != nil {
		topics = append(topics, ReplyToTopic(*e.ParentFID))
	}
	return topics
}
