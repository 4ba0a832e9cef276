package jq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/itchyny/gojq"
)

// GoJQ is the Evaluator backed by github.com/itchyny/gojq. It is stateless
// and safe for concurrent use.
type GoJQ struct{}

func New() GoJQ {
	return GoJQ{}
}

func (GoJQ) Evaluate(ctx context.Context, input, query string, flags []model.Flag) Output {
	p := &printer{
		raw:     model.Has(flags, model.FlagRawOutput),
		compact: model.Has(flags, model.FlagCompactOutput),
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return p.compileError(err)
	}

	in := newInputs(input, model.Has(flags, model.FlagRawInput), model.Has(flags, model.FlagSlurp))
	code, err := gojq.Compile(parsed,
		gojq.WithInputIter(in),
		gojq.WithEnvironLoader(func() []string { return nil }),
		gojq.WithFunction("debug", 0, 0, p.debug),
		gojq.WithFunction("stderr", 0, 0, p.stderr),
	)
	if err != nil {
		return p.compileError(err)
	}

	if model.Has(flags, model.FlagNullInput) {
		p.run(ctx, code, nil, in)
		return p.output()
	}
	for {
		v, ok := in.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			p.errorf("jq: error (at %s): %s", in.location(), err)
			break
		}
		if !p.run(ctx, code, v, in) {
			break
		}
	}
	return p.output()
}

type printer struct {
	raw     bool
	compact bool
	stdout  []string
	stderrs []string
	partial strings.Builder // written by the stderr builtin
}

// run evaluates code against a single input and reports whether evaluation
// may continue with the next input.
func (p *printer) run(ctx context.Context, code *gojq.Code, v any, in *inputs) bool {
	iter := code.RunWithContext(ctx, v)
	for {
		out, ok := iter.Next()
		if !ok {
			return true
		}
		err, isErr := out.(error)
		if !isErr {
			if err := p.emit(out); err != nil {
				p.errorf("jq: error (at %s): %s", in.location(), err)
				return true
			}
			continue
		}
		if ctx.Err() != nil {
			p.errorf("jq: error: %s", ctx.Err())
			return false
		}
		var halt *gojq.HaltError
		if errors.As(err, &halt) {
			p.halt(halt)
			return false
		}
		p.errorf("jq: error (at %s): %s", in.location(), err)
		return true
	}
}

func (p *printer) emit(v any) error {
	if s, ok := v.(string); ok && p.raw {
		p.stdout = append(p.stdout, s)
		return nil
	}
	b, err := encode(v, p.compact)
	if err != nil {
		return err
	}
	p.stdout = append(p.stdout, string(b))
	return nil
}

func (p *printer) halt(err *gojq.HaltError) {
	switch v := err.Value().(type) {
	case nil:
	case string:
		p.stderrs = append(p.stderrs, strings.TrimSuffix(v, "\n"))
	default:
		b, _ := gojq.Marshal(v)
		p.stderrs = append(p.stderrs, string(b))
	}
}

func (p *printer) debug(v any, _ []any) any {
	b, err := gojq.Marshal([]any{"DEBUG:", v})
	if err != nil {
		return err
	}
	p.stderrs = append(p.stderrs, string(b))
	return v
}

func (p *printer) stderr(v any, _ []any) any {
	b, err := gojq.Marshal(v)
	if err != nil {
		return err
	}
	p.partial.Write(b)
	return v
}

func (p *printer) errorf(format string, args ...any) {
	p.stderrs = append(p.stderrs, fmt.Sprintf(format, args...))
}

func (p *printer) compileError(err error) Output {
	p.errorf("jq: error: %s\njq: 1 compile error", err)
	return p.output()
}

func (p *printer) output() Output {
	stderr := strings.Join(p.stderrs, "\n")
	if p.partial.Len() > 0 {
		stderr = Join(p.partial.String(), stderr)
	}
	return Output{
		Stdout: strings.Join(p.stdout, "\n"),
		Stderr: stderr,
	}
}

// encode renders v with jq number and key ordering rules, indented by two
// spaces unless compact is set.
func encode(v any, compact bool) ([]byte, error) {
	b, err := gojq.Marshal(v)
	if err != nil || compact {
		return b, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
