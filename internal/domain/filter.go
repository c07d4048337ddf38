package domain

import (
	"slices"
	"strconv"
	"strings"
)

// Filter describes what a subscriber wants to receive.
//
// Types and FIDs combine with AND: when both are set, an event must have one
// of the types and come from one of the originators. Mentions and RepliesTo
// each add an independent way to match, OR-ed with the type/originator
// clause. A filter with nothing set matches everything.
type Filter struct {
	All       bool
	Types     []EventType
	FIDs      []uint64
	Mentions  []uint64
	RepliesTo []uint64
}

func FilterAll() Filter {
	return Filter{All: true}
}

func FilterByType(types ...EventType) Filter {
	return Filter{Types: types}
}

func FilterByOriginator(fids ...uint64) Filter {
	return Filter{FIDs: fids}
}

func FilterByTypeAndOriginator(types []EventType, fids []uint64) Filter {
	return Filter{Types: types, FIDs: fids}
}

func FilterByMention(fids ...uint64) Filter {
	return Filter{Mentions: fids}
}

func FilterByReplyTo(fids ...uint64) Filter {
	return Filter{RepliesTo: fids}
}

// IsAll reports whether the filter matches every event.
func (f Filter) IsAll() bool {
	return f.All || (len(f.Types) == 0 && len(f.FIDs) == 0 && len(f.Mentions) == 0 && len(f.RepliesTo) == 0)
}

// Topics returns the topic keys a subscriber with this filter registers
// under. An event matches the filter iff its topic set intersects these.
func (f Filter) Topics() []Topic {
	if f.IsAll() {
		return []Topic{TopicAll}
	}

	var topics []Topic
	seen := make(map[Topic]struct{})
	add := func(t Topic) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}

	switch {
	case len(f.Types) > 0 && len(f.FIDs) > 0:
		for _, t := range f.Types {
			for _, fid := range f.FIDs {
				add(TypeOriginatorTopic(t, fid))
			}
		}
	case len(f.Types) > 0:
		for _, t := range f.Types {
			add(TypeTopic(t))
		}
	case len(f.FIDs) > 0:
		for _, fid := range f.FIDs {
			add(OriginatorTopic(fid))
		}
	}
	for _, fid := range f.Mentions {
		add(MentionTopic(fid))
	}
	for _, fid := range f.RepliesTo {
		add(ReplyToTopic(fid))
	}
	return topics
}

// Matches reports whether e satisfies the filter.
func (f Filter) Matches(e Event) bool {
	if f.IsAll() {
		return true
	}

	want := f.Topics()
	for _, t := range Topics(e) {
		if slices.Contains(want, t) {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	if f.IsAll() {
		return "all"
	}
	var parts []string
	if len(f.Types) > 0 {
		names := make([]string, len(f.Types))
		for i, t := range f.Types {
			names[i] = string(t)
		}
		parts = append(parts, "types="+strings.Join(names, ","))
	}
	if len(f.FIDs) > 0 {
		parts = append(parts, "fids="+joinUints(f.FIDs))
	}
	if len(f.Mentions) > 0 {
		parts = append(parts, "mentions="+joinUints(f.Mentions))
	}
	if len(f.RepliesTo) > 0 {
		parts = append(parts, "replyTo="+joinUints(f.RepliesTo))
	}
	return strings.Join(parts, " ")
}

func joinUints(vals []uint64) string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(s, ",")
}
