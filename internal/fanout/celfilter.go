package fanout

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

// Predicate is an optional per-session CEL expression evaluated against every
// event that already matched the session's topics. A zero Predicate accepts
// everything.
type Predicate struct {
	prog cel.Program
	expr string
}

// CompilePredicate compiles a boolean CEL expression over the event fields
// sequence, hash, fid, event_type, message_type, timestamp, description, mentions,
// parent_fid and parent_url. An empty expression yields the zero Predicate.
func CompilePredicate(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Predicate{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("sequence", cel.IntType),
		cel.Variable("hash", cel.StringType),
		cel.Variable("fid", cel.IntType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("message_type", cel.IntType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("description", cel.StringType),
		cel.Variable("mentions", cel.ListType(cel.IntType)),
		cel.Variable("parent_fid", cel.IntType),
		cel.Variable("parent_url", cel.StringType),
	)
	if err != nil {
		return Predicate{}, fmt.Errorf("create CEL env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Predicate{}, fmt.Errorf("compile expression: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Predicate{}, fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return Predicate{}, fmt.Errorf("create CEL program: %w", err)
	}
	return Predicate{prog: prog, expr: expr}, nil
}

// String returns the source expression.
func (p Predicate) String() string {
	return p.expr
}

// Eval reports whether the event satisfies the expression. Evaluation errors
// count as no match.
func (p Predicate) Eval(e domain.Event) bool {
	if p.prog == nil {
		return true
	}

	mentions := make([]int64, len(e.Mentions))
	for i, m := range e.Mentions {
		mentions[i] = int64(m)
	}
	var parentFID int64
	if e.ParentFID != nil {
		parentFID = int64(*e.ParentFID)
	}
	var parentURL string
	if e.ParentURL != nil {
		parentURL = *e.ParentURL
	}

	out, _, err := p.prog.Eval(map[string]any{
		"sequence":     int64(e.SequenceID),
		"hash":         e.Hash,
		"fid":          int64(e.FID),
		"event_type":   string(e.Type),
		"message_type": int64(e.MessageType),
		"timestamp":    int64(e.Timestamp),
		"description":  e.Description,
		"mentions":     mentions,
		"parent_fid":   parentFID,
		"parent_url":   parentURL,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
