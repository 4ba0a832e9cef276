package snippet_test

import (
	"testing"

	"github.com/CZERTAINLY/jqplay/internal/model"
	"github.com/CZERTAINLY/jqplay/internal/snippet"

	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	cases := []struct {
		scenario string
		given    model.Snippet
		then     string
	}{
		{
			scenario: "input, query and sorted options",
			given:    model.Snippet{Input: `{"a":1}`, Query: ".a", Options: []model.Flag{"-r", "-c"}},
			then:     `{"a":1}.a-c-r`,
		},
		{
			scenario: "no options",
			given:    model.Snippet{Input: `{"foo":"bar"}`, Query: "."},
			then:     `{"foo":"bar"}.`,
		},
		{
			scenario: "uppercase sorts first",
			given:    model.Snippet{Input: "1", Query: ".", Options: []model.Flag{"-s", "-S", "-R", "-c"}},
			then:     "1.-R-S-c-s",
		},
		{
			scenario: "http source",
			given: model.Snippet{
				HTTP:  &model.HTTPRequest{Method: "GET", URL: "https://example.com/data.json"},
				Query: ".[]",
			},
			then: `{"method":"GET","url":"https://example.com/data.json"}.[]`,
		},
		{
			scenario: "http source keeps html characters",
			given: model.Snippet{
				HTTP:  &model.HTTPRequest{Method: "POST", URL: "https://example.com/?a=1&b=2", Headers: ptr(`{"X":"<y>"}`), Body: ptr("{}")},
				Query: ".",
			},
			then: `{"method":"POST","url":"https://example.com/?a=1&b=2","headers":"{\"X\":\"<y>\"}","body":"{}"}.`,
		},
		{
			scenario: "http source with empty headers",
			given: model.Snippet{
				HTTP:  &model.HTTPRequest{Method: "GET", URL: "https://example.com", Headers: ptr("")},
				Query: ".",
			},
			then: `{"method":"GET","url":"https://example.com","headers":""}.`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			b, err := snippet.Canonical(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, string(b))
		})
	}
}

func TestCanonical_OptionOrder(t *testing.T) {
	s := model.Snippet{Input: "1", Query: ".", Options: []model.Flag{"-r", "-c"}}
	a, err := snippet.Canonical(s)
	require.NoError(t, err)
	s.Options = []model.Flag{"-c", "-r"}
	b, err := snippet.Canonical(s)
	require.NoError(t, err)
	require.Equal(t, a, b)

	// caller slice is not reordered
	s.Options = []model.Flag{"-r", "-c"}
	_, err = snippet.Canonical(s)
	require.NoError(t, err)
	require.Equal(t, []model.Flag{"-r", "-c"}, s.Options)
}

func TestSlug(t *testing.T) {
	cases := []struct {
		given string
		then  string
	}{
		{`{"a":1}.a-c-r`, "zTYx2t1DTr0J8z4"},
		{`{"foo":"bar"}.`, "C0zx4CpwOSVyJAN"},
		{`{"method":"GET","url":"https://example.com/data.json"}.[]`, "7EYrVO626YLt_ec"},
		{"", "47DEQpj8HBSa-_T"},
		// 15th character is '_', extended by one
		{"null.84", "VBX-BG3z8OEKGf_1"},
		{"null.162", "Zki04lCCFdEC6m_T"},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			slug := snippet.Slug([]byte(tc.given))
			require.Equal(t, tc.then, slug)
			require.True(t, snippet.ValidSlug(slug))
		})
	}
}

func TestSlug_Distinct(t *testing.T) {
	base := model.Snippet{Input: `{"a":1}`, Query: ".a", Options: []model.Flag{"-c"}}
	httpBase := model.Snippet{
		HTTP:  &model.HTTPRequest{Method: "GET", URL: "https://example.com/data.json"},
		Query: ".a",
	}
	slugOf := func(s model.Snippet) string {
		t.Helper()
		b, err := snippet.Canonical(s)
		require.NoError(t, err)
		return snippet.Slug(b)
	}

	cases := []struct {
		scenario string
		base     model.Snippet
		given    func(*model.Snippet)
	}{
		{"query", base, func(s *model.Snippet) { s.Query = ".b" }},
		{"input", base, func(s *model.Snippet) { s.Input = `{"a":2}` }},
		{"added option", base, func(s *model.Snippet) { s.Options = []model.Flag{"-c", "-r"} }},
		{"other option", base, func(s *model.Snippet) { s.Options = []model.Flag{"-r"} }},
		{"no options", base, func(s *model.Snippet) { s.Options = nil }},
		{"http url", httpBase, func(s *model.Snippet) { s.HTTP = &model.HTTPRequest{Method: "GET", URL: "https://example.com/other.json"} }},
		{"http method", httpBase, func(s *model.Snippet) { s.HTTP = &model.HTTPRequest{Method: "POST", URL: "https://example.com/data.json"} }},
		{"http empty headers", httpBase, func(s *model.Snippet) {
			s.HTTP = &model.HTTPRequest{Method: "GET", URL: "https://example.com/data.json", Headers: ptr("")}
		}},
		{"http body", httpBase, func(s *model.Snippet) {
			s.HTTP = &model.HTTPRequest{Method: "GET", URL: "https://example.com/data.json", Body: ptr("{}")}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			changed := tc.base
			tc.given(&changed)
			require.NotEqual(t, slugOf(tc.base), slugOf(changed))
		})
	}
}

func TestValidSlug(t *testing.T) {
	for _, given := range []string{"abc", "A-b_9", "zTYx2t1DTr0J8z4"} {
		require.True(t, snippet.ValidSlug(given), given)
	}
	for _, given := range []string{"", "a b", "a/b", "../etc", "a.b", "ü"} {
		require.False(t, snippet.ValidSlug(given), given)
	}
}

func ptr(s string) *string {
	return &s
}
