package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestTopics(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  []Topic
	}{
		{
			name:  "reaction has base topics only",
			event: Event{Type: EventReactionAdd, FID: 42},
			want: []Topic{
				"all", "type:REACTION_ADD", "originator:42", "type:REACTION_ADD+originator:42",
			},
		},
		{
			name:  "cast add with mentions and parent",
			event: Event{Type: EventCastAdd, FID: 5, Mentions: []uint64{7, 9, 7}, ParentFID: ptr[uint64](3)},
			want: []Topic{
				"all", "type:CAST_ADD", "originator:5", "type:CAST_ADD+originator:5",
				"mention:7", "mention:9", "reply-to:3",
			},
		},
		{
			name:  "cast remove does not derive mention topics",
			event: Event{Type: EventCastRemove, FID: 5, Mentions: []uint64{7}, ParentFID: ptr[uint64](3)},
			want: []Topic{
				"all", "type:CAST_REMOVE", "originator:5", "type:CAST_REMOVE+originator:5",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Topics(tt.event))
		})
	}
}

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType("cast_add")
	require.NoError(t, err)
	assert.Equal(t, EventCastAdd, got)

	got, err = ParseEventType("11")
	require.NoError(t, err)
	assert.Equal(t, EventProfileUpdate, got)

	_, err = ParseEventType("99")
	assert.Error(t, err)

	_, err = ParseEventType("CAST_EDIT")
	assert.Error(t, err)
}

func TestEventTypeFromMessageCode(t *testing.T) {
	assert.Equal(t, EventVerificationAdd, EventTypeFromMessageCode(7))
	assert.Equal(t, EventUsernameProof, EventTypeFromMessageCode(12))
	assert.Equal(t, EventUnknown, EventTypeFromMessageCode(9))
	assert.Equal(t, EventUnknown, EventTypeFromMessageCode(0))
}
