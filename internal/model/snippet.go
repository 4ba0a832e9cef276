package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"time"
)

var httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"}

// HTTPRequest describes where the JSON input of a snippet is fetched from.
// The field order is part of the snippet identity, do not reorder. Headers
// and Body are optional: an absent field and an empty string encode, and so
// hash, differently.
type HTTPRequest struct {
	Method  string  `json:"method"`
	URL     string  `json:"url"`
	Headers *string `json:"headers,omitempty"` // JSON object of string values
	Body    *string `json:"body,omitempty"`
}

func (h HTTPRequest) validate(verr *ValidationError) {
	if !slices.Contains(httpMethods, h.Method) {
		verr.Add(fmt.Sprintf("invalid HTTP method %q", h.Method))
	}
	if u, err := url.Parse(h.URL); err != nil || u.Scheme == "" || u.Host == "" {
		verr.Add("HTTP url must be an absolute URL")
	}
	if h.Headers != nil && *h.Headers != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(*h.Headers), &headers); err != nil || headers == nil {
			verr.Add("HTTP headers must be a valid JSON string representing key-value pairs.")
		}
	}
	if h.Body != nil && len(*h.Body) > MaxInputSize {
		verr.Add(fmt.Sprintf("HTTP body must be at most %d bytes", MaxInputSize))
	}
}

// Snippet is a persisted (input or http source, query, options) triple.
// Exactly one of Input and HTTP is set; an empty Input counts as absent.
type Snippet struct {
	Input   string       `json:"json,omitempty"`
	HTTP    *HTTPRequest `json:"http,omitempty"`
	Query   string       `json:"query"`
	Options []Flag       `json:"options"`
}

func (s Snippet) Validate() error {
	var verr ValidationError
	if len(s.Input) > MaxInputSize {
		verr.Add(fmt.Sprintf("JSON must be at most %d bytes", MaxInputSize))
	}
	if (s.Input != "") == (s.HTTP != nil) {
		verr.Add("Either JSON or HTTP must be provided.")
	}
	if s.HTTP != nil {
		s.HTTP.validate(&verr)
	}
	switch {
	case len(s.Query) == 0:
		verr.Add("Query must not be empty")
	case len(s.Query) > MaxQuerySize:
		verr.Add(fmt.Sprintf("Query must be at most %d bytes", MaxQuerySize))
	}
	for _, o := range s.Options {
		if !o.Valid() {
			verr.Add(fmt.Sprintf("invalid option %q: expected one of -c, -n, -R, -r, -s, -S", o))
		}
	}
	return verr.err()
}

// WithDefaults returns s with the optional fields defaulted the way they are
// returned to readers.
func (s Snippet) WithDefaults() Snippet {
	if s.Options == nil {
		s.Options = []Flag{}
	}
	return s
}

// SnippetRecord is a stored snippet.
type SnippetRecord struct {
	Slug string `json:"slug"`
	Snippet
	CreatedAt time.Time `json:"created_at"`
}
