package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"PAGE1","type":"page","title":"Dashboard","url":"https://app.test/","webSocketDebuggerUrl":"ws://127.0.0.1:1/devtools/page/PAGE1"},
			{"id":"SW","type":"service_worker","title":"sw","url":"https://app.test/sw.js"}
		]`))
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"targets", "--port", u.Port(), "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "PAGE1")
	assert.Contains(t, out.String(), "Dashboard")
	assert.NotContains(t, out.String(), "SW")
}

func TestTargetsCommandUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"targets", "--port", u.Port()})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery unavailable")
}

func TestWatchFilterConfig(t *testing.T) {
	t.Parallel()

	o := &watchOptions{urlFilter: "a.com;b.com", codes: "200,404", hideMethods: []string{"OPTIONS"}, hideTypes: []string{"Image"}}
	cfg := o.filterConfig()
	assert.Equal(t, []string{"a.com", "b.com"}, cfg.URLTerms)
	assert.Equal(t, []string{"200", "404"}, cfg.StatusCodes)
	assert.False(t, cfg.Methods["OPTIONS"])
	assert.False(t, cfg.ResourceTypes["Image"])
	assert.False(t, cfg.ResourceTypes["Ping"])

	o.showPing = true
	assert.True(t, o.filterConfig().ResourceTypes["Ping"])
}

func TestPrintSettled(t *testing.T) {
	t.Parallel()

	status := 200
	size := int64(2048)
	dur := 1234 * time.Microsecond
	recs := []domain.RequestRecord{
		{ID: "1", Method: "GET", URL: "https://a.com/x", ResourceType: "XHR", State: domain.StateFinished, Status: &status, Size: &size, Duration: &dur},
		{ID: "2", Method: "GET", URL: "https://a.com/y", State: domain.StateFinished, ResponseBody: traffic.Body{Kind: traffic.BodyPending}},
		{ID: "3", Method: "GET", URL: "https://a.com/z", State: domain.StateStarted},
		{ID: "4", Method: "POST", URL: "https://a.com/f", State: domain.StateFailed, Canceled: true},
	}
	printed := map[domain.RequestID]bool{}
	var buf bytes.Buffer
	printSettled(&buf, recs, printed)
	printSettled(&buf, recs, printed)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "2.0 kB")
	assert.Contains(t, lines[0], "1ms")
	assert.Contains(t, lines[1], "canceled")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
