package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/model"
	"github.com/CZERTAINLY/jqplay/internal/service"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Pool.Isolation = model.IsolationInProcess
	cfg.Pool.MinWorkers = 1
	cfg.Pool.MaxWorkers = 2
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "jqplay.sqlite3")
	return cfg
}

func newService(t *testing.T, cfg model.Config) *service.Service {
	t.Helper()
	svc, err := service.New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService(t *testing.T) {
	t.Parallel()
	app := newService(t, testConfig(t)).App()

	do := func(method, path, body string) (int, string) {
		t.Helper()
		req, err := http.NewRequest(method, path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, 5000)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, body := do(http.MethodPost, "/api/jq", `{"json":"{\"foo\":\"bar\"}","query":".foo","options":["-r"]}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"result":"bar"}`, body)

	code, body = do(http.MethodPost, "/api/snippets", `{"json":"{\"foo\":\"bar\"}","query":"."}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"slug":"C0zx4CpwOSVyJAN"}`, body)

	code, body = do(http.MethodGet, "/api/snippets/C0zx4CpwOSVyJAN", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"json":"{\"foo\":\"bar\"}","query":".","options":[]}`, body)
}

func TestServe(t *testing.T) {
	t.Parallel()
	svc := newService(t, testConfig(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	var (
		wg     sync.WaitGroup
		runErr error
	)
	wg.Go(func() {
		runErr = svc.Serve(ctx, ln)
	})

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	// the first maintenance run backfills min_workers
	require.GreaterOrEqual(t, svc.Pool().Stats().Live, 1)

	cancel()
	wg.Wait()
	require.NoError(t, runErr)
}

func TestNew_Fail(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    func(*model.Config)
		then     string
	}{
		{"version", func(c *model.Config) { c.Version = 1 }, "config version 1 is not supported"},
		{"isolation", func(c *model.Config) { c.Pool.Isolation = "thread" }, `unsupported pool isolation "thread"`},
		{"cron", func(c *model.Config) { c.Pool.Maintenance.Cron = "* * *" }, "parsing pool.maintenance.cron"},
		{"duration", func(c *model.Config) { c.Pool.Maintenance.Duration = "10s" }, "pool.maintenance.duration"},
		{"backend", func(c *model.Config) { c.Store.Backend = "mongo" }, `unsupported store backend "mongo"`},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			cfg := testConfig(t)
			tc.given(&cfg)
			_, err := service.New(t.Context(), cfg)
			require.ErrorContains(t, err, tc.then)
		})
	}
}

func TestEval(t *testing.T) {
	t.Parallel()
	p, err := service.NewPool(testConfig(t).Pool, os.Stderr)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	a := write("a.json", `{"name":"a"}`)
	b := write("b.json", `{"name":"b"}`)
	broken := write("broken.json", `{`)
	missing := filepath.Join(dir, "missing.json")

	var out bytes.Buffer
	err = service.Eval(t.Context(), p, service.EvalOptions{
		Query:       ".name",
		Options:     []model.Flag{model.FlagRawOutput},
		Parallelism: 2,
	}, []string{a, b, broken, missing}, &out)
	require.ErrorContains(t, err, "1 of 4 files failed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	slices.Sort(lines)
	require.Len(t, lines, 4)
	require.Equal(t, a+": a", lines[0])
	require.Equal(t, b+": b", lines[1])
	// a parse error is jq output, not a failure
	require.True(t, strings.HasPrefix(lines[2], broken+": jq: error"), lines[2])
	require.True(t, strings.HasPrefix(lines[3], "error: "+missing), lines[3])
}

func TestEval_JSONOutput(t *testing.T) {
	t.Parallel()
	p, err := service.NewPool(testConfig(t).Pool, os.Stderr)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":[1,2]}`), 0o600))

	var out bytes.Buffer
	err = service.Eval(t.Context(), p, service.EvalOptions{
		Query:   ".a",
		Options: []model.Flag{model.FlagCompactOutput},
	}, []string{path}, &out)
	require.NoError(t, err)

	text := strings.TrimPrefix(strings.TrimSpace(out.String()), path+": ")
	var got []int
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	require.Equal(t, []int{1, 2}, got)
}
