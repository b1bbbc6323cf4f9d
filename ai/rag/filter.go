package rag

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/store"
)

// Filter expressions narrow which matched messages may anchor an excerpt.
// They are CEL expressions over message fields, for example:
//
//	channel_id == "123" && posted_ts > 1700000000000
//	author == "alice" || reaction_count >= 5
type MessageFilter struct {
	program cel.Program
	expr    string
}

var filterEnv *cel.Env

func init() {
	var err error
	filterEnv, err = cel.NewEnv(
		cel.Variable("channel_id", cel.StringType),
		cel.Variable("author", cel.StringType),
		cel.Variable("author_id", cel.StringType),
		cel.Variable("thread_id", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("posted_ts", cel.IntType),
		cel.Variable("reaction_count", cel.IntType),
		cel.Variable("has_parent", cel.BoolType),
	)
	if err != nil {
		panic(errors.Wrap(err, "failed to create CEL environment"))
	}
}

// CompileFilter parses and type-checks a filter expression. An empty
// expression yields a nil filter, which matches everything.
func CompileFilter(expr string) (*MessageFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	celAST, issues := filterEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid filter expression: %s", expr)
	}
	if !celAST.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("filter must evaluate to a boolean: %s", expr)
	}

	program, err := filterEnv.Program(celAST)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter program")
	}

	return &MessageFilter{program: program, expr: expr}, nil
}

// Match evaluates the filter against a message. A nil filter matches.
func (f *MessageFilter) Match(msg *store.Message) (bool, error) {
	if f == nil {
		return true, nil
	}

	reactionCount := 0
	for _, count := range msg.Reactions {
		reactionCount += count
	}

	out, _, err := f.program.Eval(map[string]any{
		"channel_id":     msg.ChannelID,
		"author":         msg.Author,
		"author_id":      msg.AuthorID,
		"thread_id":      msg.ThreadID,
		"text":           msg.Text,
		"posted_ts":      msg.PostedTs,
		"reaction_count": int64(reactionCount),
		"has_parent":     msg.ParentID != "",
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to evaluate filter: %s", f.expr)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("filter did not return a boolean: %s", f.expr)
	}
	return matched, nil
}

// String returns the source expression.
func (f *MessageFilter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}
