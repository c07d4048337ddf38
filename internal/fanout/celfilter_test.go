package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

func TestCompilePredicate(t *testing.T) {
	e := domain.Event{
		SequenceID:  100,
		Hash:        "0xabc",
		FID:         42,
		Type:        domain.EventCastAdd,
		MessageType: 1,
		Timestamp:   1700000000,
		Description: "fid:42 casted cast:abc gm",
		Mentions:    []uint64{7, 9},
		ParentFID:   ptr(uint64(3)),
		ParentURL:   ptr("chain://eip155:1/erc721:0xabc"),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"fid == 42", true},
		{"fid == 43", false},
		{`event_type == "CAST_ADD" && sequence > 50`, true},
		{`description.contains("gm")`, true},
		{"9 in mentions", true},
		{"8 in mentions", false},
		{"parent_fid == 3", true},
		{`parent_url.startsWith("chain://")`, true},
		{"message_type == 1 && timestamp > 0", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := CompilePredicate(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Eval(e))
		})
	}
}

func TestCompilePredicateErrors(t *testing.T) {
	for _, expr := range []string{
		"fid ==",
		"unknown_field == 1",
		"fid + 1",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := CompilePredicate(expr)
			assert.Error(t, err)
		})
	}
}

func TestPredicateString(t *testing.T) {
	p, err := CompilePredicate("  fid == 1 ")
	require.NoError(t, err)
	assert.Equal(t, "fid == 1", p.String())
	assert.Empty(t, Predicate{}.String())
}
