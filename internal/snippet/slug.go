package snippet

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"slices"

	"github.com/CZERTAINLY/jqplay/internal/model"
)

// MinSlugLength is the length of a slug unless it would end with '_'.
const MinSlugLength = 15

var slugRx = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Canonical returns the byte sequence a snippet is identified by: the input
// document, or the JSON of the http source when there is no input, followed
// by the query and the lexicographically sorted options. Fields are
// concatenated without separators.
func Canonical(s model.Snippet) ([]byte, error) {
	var buf bytes.Buffer
	switch {
	case s.Input != "":
		buf.WriteString(s.Input)
	case s.HTTP != nil:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(s.HTTP); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1) // Encode appends a newline
	}
	buf.WriteString(s.Query)
	options := slices.Clone(s.Options)
	slices.Sort(options)
	for _, o := range options {
		buf.WriteString(string(o))
	}
	return buf.Bytes(), nil
}

// Slug derives the identifier from canonical bytes: the URL-safe unpadded
// base64 of their SHA-256, cut to MinSlugLength and extended while the last
// character is '_'.
func Slug(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])
	n := MinSlugLength
	for n < len(encoded) && encoded[n-1] == '_' {
		n++
	}
	return encoded[:n]
}

func ValidSlug(slug string) bool {
	return slugRx.MatchString(slug)
}
