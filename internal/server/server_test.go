package server_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/CZERTAINLY/jqplay/internal/model"
	"github.com/CZERTAINLY/jqplay/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

// fakeExecutor answers by query: "timeout" times out, "crash" fails,
// anything else echoes the request.
type fakeExecutor struct {
	mu   sync.Mutex
	last model.ExecutionRequest
}

func (e *fakeExecutor) Submit(_ context.Context, req model.ExecutionRequest) model.Outcome {
	e.mu.Lock()
	e.last = req
	e.mu.Unlock()
	switch req.Query {
	case "timeout":
		return model.TimedOut()
	case "crash":
		return model.Failed("worker exited")
	default:
		return model.Success(fmt.Sprintf("%s|%s|%s", req.Input, req.Query, strings.Join(model.Strings(req.Options), ",")))
	}
}

type fakeSnippets struct {
	put func(model.Snippet) (string, error)
	get func(string) (model.Snippet, error)
}

func (s fakeSnippets) Put(_ context.Context, snip model.Snippet) (string, error) {
	return s.put(snip)
}

func (s fakeSnippets) Get(_ context.Context, slug string) (model.Snippet, error) {
	return s.get(slug)
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestJQ(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	app := server.New(server.Config{}, exec, fakeSnippets{})

	type then struct {
		code int
		body string
	}
	cases := []struct {
		scenario string
		method   string
		target   string
		body     string
		then     then
	}{
		{
			scenario: "post",
			method:   http.MethodPost,
			target:   "/api/jq",
			body:     `{"json":"{}","query":".","options":["-c","-r"]}`,
			then:     then{http.StatusOK, `{"result":"{}|.|-c,-r"}`},
		},
		{
			scenario: "get",
			method:   http.MethodGet,
			target:   "/api/jq?" + url.Values{"json": {"[1]"}, "query": {".[]"}, "options": {"-c,-S"}}.Encode(),
			then:     then{http.StatusOK, `{"result":"[1]|.[]|-c,-S"}`},
		},
		{
			scenario: "null input",
			method:   http.MethodPost,
			target:   "/api/jq",
			body:     `{"query":"1","options":["-n"]}`,
			then:     then{http.StatusOK, `{"result":"|1|-n"}`},
		},
		{
			scenario: "invalid options",
			method:   http.MethodPost,
			target:   "/api/jq",
			body:     `{"json":"{}","query":".","options":["-x","--arg"]}`,
			then: then{http.StatusUnprocessableEntity, `{"errors":[
				"invalid option \"-x\": expected one of -c, -n, -R, -r, -s, -S",
				"invalid option \"--arg\": expected one of -c, -n, -R, -r, -s, -S"
			]}`},
		},
		{
			scenario: "empty query",
			method:   http.MethodGet,
			target:   "/api/jq?json=1",
			then:     then{http.StatusUnprocessableEntity, `{"errors":["Query must not be empty"]}`},
		},
		{
			scenario: "oversized input",
			method:   http.MethodPost,
			target:   "/api/jq",
			body:     `{"json":"` + strings.Repeat("1", model.MaxInputSize+1) + `","query":"."}`,
			then:     then{http.StatusUnprocessableEntity, `{"errors":["JSON must be at most 1048576 bytes"]}`},
		},
		{
			scenario: "timeout",
			method:   http.MethodPost,
			target:   "/api/jq",
			body:     `{"json":"{}","query":"timeout"}`,
			then:     then{http.StatusRequestTimeout, `{"error":"Query execution timed out"}`},
		},
		{
			scenario: "failure",
			method:   http.MethodPost,
			target:   "/api/jq",
			body:     `{"json":"{}","query":"crash"}`,
			then:     then{http.StatusInternalServerError, `{"error":"evaluation failed: worker exited"}`},
		},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			code, body := do(t, app, tc.method, tc.target, tc.body)
			require.Equal(t, tc.then.code, code, body)
			require.JSONEq(t, tc.then.body, body)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		code, body := do(t, app, http.MethodPost, "/api/jq", `{"json":`)
		require.Equal(t, http.StatusUnprocessableEntity, code)
		require.Contains(t, body, "invalid request body")
	})

	t.Run("request timeout", func(t *testing.T) {
		app := server.New(server.Config{}, exec, fakeSnippets{})
		code, _ := do(t, app, http.MethodPost, "/api/jq", `{"json":"{}","query":"."}`)
		require.Equal(t, http.StatusOK, code)
		exec.mu.Lock()
		defer exec.mu.Unlock()
		require.Equal(t, model.DefaultTimeout, exec.last.Timeout)
		require.NotEmpty(t, exec.last.ID)
	})
}

// recordingExecutor keeps every request, like an evaluation that outlives
// its handler.
type recordingExecutor struct {
	mu   sync.Mutex
	reqs []model.ExecutionRequest
}

func (e *recordingExecutor) Submit(_ context.Context, req model.ExecutionRequest) model.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return model.Success("")
}

func TestJQ_GetRetainsValues(t *testing.T) {
	t.Parallel()
	exec := &recordingExecutor{}
	app := server.New(server.Config{}, exec, fakeSnippets{})

	given := []url.Values{
		{"json": {`{"first":true}`}, "query": {".first"}, "options": {"-c,-r"}},
		{"json": {`{"other":"xxxxxxxxxxxx"}`}, "query": {".otherxxxxx"}, "options": {"-S,-s"}},
	}
	for _, v := range given {
		code, body := do(t, app, http.MethodGet, "/api/jq?"+v.Encode(), "")
		require.Equal(t, http.StatusOK, code, body)
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.reqs, len(given))
	for i, v := range given {
		require.Equal(t, v.Get("json"), exec.reqs[i].Input)
		require.Equal(t, v.Get("query"), exec.reqs[i].Query)
		require.Equal(t, v.Get("options"), strings.Join(model.Strings(exec.reqs[i].Options), ","))
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	app := server.New(server.Config{BodyLimit: 64}, &fakeExecutor{}, fakeSnippets{})
	code, _ := do(t, app, http.MethodPost, "/api/jq", `{"json":"`+strings.Repeat(" ", 128)+`","query":"."}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	app := server.New(server.Config{}, &fakeExecutor{}, fakeSnippets{})
	code, body := do(t, app, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ok"}`, body)
}

func TestSnippets(t *testing.T) {
	t.Parallel()
	stored := model.Snippet{
		HTTP:    &model.HTTPRequest{Method: "GET", URL: "https://example.com/data.json"},
		Query:   ".[]",
		Options: []model.Flag{},
	}
	snippets := fakeSnippets{
		put: func(s model.Snippet) (string, error) {
			switch s.Query {
			case "storage":
				return "", fmt.Errorf("%w: disk full", model.ErrStorage)
			case "":
				return "", model.NewValidationError("Either JSON or HTTP must be provided.", "Query must not be empty")
			}
			return "7EYrVO626YLt_ec", nil
		},
		get: func(slug string) (model.Snippet, error) {
			switch slug {
			case "7EYrVO626YLt_ec":
				return stored, nil
			case "broken":
				return model.Snippet{}, errors.New("connection reset")
			}
			return model.Snippet{}, model.ErrNotFound
		},
	}
	app := server.New(server.Config{}, &fakeExecutor{}, snippets)

	cases := []struct {
		scenario string
		method   string
		target   string
		body     string
		code     int
		then     string
	}{
		{"put", http.MethodPost, "/api/snippets", `{"http":{"method":"GET","url":"https://example.com/data.json"},"query":".[]"}`, http.StatusOK, `{"slug":"7EYrVO626YLt_ec"}`},
		{"put invalid", http.MethodPost, "/api/snippets", `{}`, http.StatusUnprocessableEntity, `{"errors":["Either JSON or HTTP must be provided.","Query must not be empty"]}`},
		{"put storage failure", http.MethodPost, "/api/snippets", `{"json":"1","query":"storage"}`, http.StatusInternalServerError, `{"errors":["An unexpected error occurred while saving the snippet."]}`},
		{"get", http.MethodGet, "/api/snippets/7EYrVO626YLt_ec", "", http.StatusOK, `{"http":{"method":"GET","url":"https://example.com/data.json"},"query":".[]","options":[]}`},
		{"get unknown", http.MethodGet, "/api/snippets/unknown", "", http.StatusNotFound, `{"errors":"Snippet not found"}`},
		{"get failure", http.MethodGet, "/api/snippets/broken", "", http.StatusInternalServerError, `{"errors":"Server error"}`},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			code, body := do(t, app, tc.method, tc.target, tc.body)
			require.Equal(t, tc.code, code, body)
			require.JSONEq(t, tc.then, body)
		})
	}
}
