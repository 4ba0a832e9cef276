// Package jq evaluates jq programs with gojq and renders the results the way
// the jq command line does.
package jq

import (
	"context"

	"github.com/CZERTAINLY/jqplay/internal/model"
)

// Evaluator runs a jq query against an input document. Query and runtime
// errors never fail the call, they are reported in Output.Stderr.
type Evaluator interface {
	Evaluate(ctx context.Context, input, query string, flags []model.Flag) Output
}

// Output is what jq would print to its standard streams.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Text is the user visible result, see Join.
func (o Output) Text() string {
	return Join(o.Stdout, o.Stderr)
}

// Join concatenates both streams: a single newline separates them when both
// are non-empty, otherwise the non-empty one is returned verbatim.
func Join(stdout, stderr string) string {
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n" + stderr
	}
}
