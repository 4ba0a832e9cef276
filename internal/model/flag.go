package model

import (
	"fmt"
	"slices"
	"strings"
)

// Flag is a jq command line switch accepted by the evaluator.
type Flag string

const (
	FlagCompactOutput Flag = "-c"
	FlagNullInput     Flag = "-n"
	FlagRawInput      Flag = "-R"
	FlagRawOutput     Flag = "-r"
	FlagSlurp         Flag = "-s"
	FlagSortKeys      Flag = "-S"
)

var flags = map[Flag]string{
	FlagCompactOutput: "compact output",
	FlagNullInput:     "null input",
	FlagRawInput:      "raw input",
	FlagRawOutput:     "raw output",
	FlagSlurp:         "slurp",
	FlagSortKeys:      "sort keys",
}

func (f Flag) Valid() bool {
	_, ok := flags[f]
	return ok
}

// Describe returns a human name of the flag, empty for unknown flags.
func (f Flag) Describe() string {
	return flags[f]
}

func ParseFlag(s string) (Flag, error) {
	f := Flag(strings.TrimSpace(s))
	if !f.Valid() {
		return "", NewValidationError(fmt.Sprintf("invalid option %q: expected one of -c, -n, -R, -r, -s, -S", s))
	}
	return f, nil
}

// ParseFlags converts raw values into flags keeping the caller order.
// All invalid values are reported in a single ValidationError.
func ParseFlags(values []string) ([]Flag, error) {
	if values == nil {
		return nil, nil
	}
	var verr ValidationError
	out := make([]Flag, 0, len(values))
	for _, v := range values {
		f, err := ParseFlag(v)
		if err != nil {
			verr.Add(err.Error())
			continue
		}
		out = append(out, f)
	}
	if verr.Len() > 0 {
		return nil, &verr
	}
	return out, nil
}

// SplitFlags parses a comma separated list as used by query strings.
func SplitFlags(s string) ([]Flag, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return ParseFlags(strings.Split(s, ","))
}

// Has reports whether flag is present in fs.
func Has(fs []Flag, flag Flag) bool {
	return slices.Contains(fs, flag)
}

// Strings returns the raw values of fs.
func Strings(fs []Flag) []string {
	if fs == nil {
		return nil
	}
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}
