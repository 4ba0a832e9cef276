package jq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
)

// inputs is the lazily decoded input stream. It is consumed both by the
// evaluation loop and by the input and inputs builtins, so with -n nothing
// is parsed unless the program asks for it.
type inputs struct {
	src   string
	raw   bool
	slurp bool

	dec   *json.Decoder
	lines []string
	done  bool
	off   int // bytes consumed, for error locations
}

func newInputs(src string, raw, slurp bool) *inputs {
	in := &inputs{src: src, raw: raw, slurp: slurp}
	if raw {
		if !slurp {
			in.lines = strings.SplitAfter(src, "\n")
			if n := len(in.lines); n > 0 && in.lines[n-1] == "" {
				in.lines = in.lines[:n-1]
			}
		}
		return in
	}
	in.dec = json.NewDecoder(strings.NewReader(src))
	in.dec.UseNumber()
	return in
}

// Next implements gojq.Iter. Parse failures are yielded as error values and
// end the stream.
func (in *inputs) Next() (any, bool) {
	if in.done {
		return nil, false
	}
	switch {
	case in.raw && in.slurp:
		in.done = true
		in.off = len(in.src)
		return in.src, true
	case in.raw:
		if len(in.lines) == 0 {
			in.done = true
			return nil, false
		}
		line := in.lines[0]
		in.lines = in.lines[1:]
		in.off += len(line)
		return strings.TrimSuffix(line, "\n"), true
	case in.slurp:
		in.done = true
		all := []any{}
		for {
			v, err := in.decode()
			if errors.Is(err, io.EOF) {
				return all, true
			}
			if err != nil {
				return err, true
			}
			all = append(all, v)
		}
	default:
		v, err := in.decode()
		if errors.Is(err, io.EOF) {
			in.done = true
			return nil, false
		}
		if err != nil {
			in.done = true
			return err, true
		}
		return v, true
	}
}

func (in *inputs) decode() (any, error) {
	var v any
	err := in.dec.Decode(&v)
	in.off = int(in.dec.InputOffset())
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse input: %w", err)
	}
	return normalize(v), nil
}

func (in *inputs) location() string {
	off := min(in.off, len(in.src))
	return "<stdin>:" + strconv.Itoa(strings.Count(in.src[:off], "\n"))
}

// normalize converts json.Number into the numeric types gojq works with,
// keeping integers exact.
func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		return number(v)
	case []any:
		for i, x := range v {
			v[i] = normalize(x)
		}
		return v
	case map[string]any:
		for k, x := range v {
			v[k] = normalize(x)
		}
		return v
	default:
		return v
	}
}

func number(n json.Number) any {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if !strings.ContainsAny(s, ".eE") {
		if i, ok := new(big.Int).SetString(s, 10); ok {
			return i
		}
	}
	// out of range values become +-Inf, which jq prints as +-DBL_MAX
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
