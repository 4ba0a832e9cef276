package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// ConfigErrorDetail is a single schema violation in a user supplied config.
type ConfigErrorDetail struct {
	Path    string // store.postgres.dsn
	Code    string // missing_required | unknown_field | conflicting_values | invalid_enum | type_mismatch | validation_error
	Message string
	Pos     ConfigErrorPosition
}

func (c ConfigErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type ConfigErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
	reEnum        = regexp.MustCompile(`(?i)must be one of|expected one of`)
)

// enumFields get the list of allowed values appended to their message.
var enumFields = []string{"pool.isolation", "store.backend"}

// ConfigErrDetails turns an error returned by LoadConfig into one detail per
// offending position. Errors not coming from CUE yield a single detail.
func ConfigErrDetails(err error) []ConfigErrorDetail {
	if err == nil {
		return nil
	}
	details := humanize(err)
	if len(details) == 0 {
		return []ConfigErrorDetail{{Code: "validation_error", Message: err.Error()}}
	}
	return details
}

func humanize(err error) []ConfigErrorDetail {
	seen := make(map[ConfigErrorPosition]struct{})

	var out []ConfigErrorDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)

		pos := position(e)
		if pos.Filename == "" {
			continue
		}
		if _, ok := seen[pos]; ok {
			continue
		}
		seen[pos] = struct{}{}

		for _, field := range enumFields {
			if path != field {
				continue
			}
			values, dflt := enumStrings(schema.LookupPath(cue.ParsePath(field)))
			msg += fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
			if dflt != "" {
				msg += fmt.Sprintf(" (default %s)", dflt)
			}
		}

		out = append(out, ConfigErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     pos,
		})
	}
	return out
}

func enumStrings(v cue.Value) (values []string, def string) {
	if d, ok := v.Default(); ok {
		if s, err := d.String(); err == nil {
			def = s
		}
	}
	op, args := v.Expr()
	if op != cue.OrOp {
		if s, err := v.String(); err == nil {
			values = append(values, s)
		}
		return
	}
	for _, a := range args {
		s, err := a.String()
		if err != nil {
			continue
		}
		values = append(values, s)
	}
	return
}

func position(err cueerrors.Error) ConfigErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return ConfigErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	return ConfigErrorPosition{}
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", last(path))
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", last(path))
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", last(path))
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value", last(path))
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", last(path))
	default:
		return "validation_error", raw
	}
}

func last(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
