package grok_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grokfilter/grokfilter-go/internal/patternfinder"
	"github.com/grokfilter/grokfilter-go/pkg/grok"
	"github.com/grokfilter/grokfilter-go/pkg/grok/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postfixLine = "Mar 16 00:01:25 evita postfix/smtpd[1713]: connect from camomile.cloud9.net[168.100.1.3]"

// pathological is matched by EVIL only after exponential backtracking, and
// by FAST immediately.
var pathological = strings.Repeat("a", 40) + "!"

func newFilter(t *testing.T, opts ...grok.Option) *grok.Filter {
	t.Helper()
	f, err := grok.New(opts...)
	require.NoError(t, err)
	return f
}

func TestFilter_SyslogLine(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message", "%{SYSLOGLINE}"))
	ev := grok.NewMessageEvent(postfixLine)

	res := f.Filter(context.Background(), ev)
	require.Equal(t, grok.Matched, res.Outcome)
	assert.Equal(t, "message", res.Field)
	assert.Equal(t, "%{SYSLOGLINE}", res.Pattern)
	assert.Empty(t, res.Errors)

	for field, want := range map[string]string{
		"timestamp": "Mar 16 00:01:25",
		"logsource": "evita",
		"program":   "postfix/smtpd",
		"pid":       "1713",
	} {
		got, ok := ev.Get(field)
		require.True(t, ok, field)
		assert.Equal(t, want, got, field)
	}

	// message already held the raw line, so the capture accumulates.
	msg, _ := ev.Get("message")
	assert.Equal(t, []any{postfixLine, "connect from camomile.cloud9.net[168.100.1.3]"}, msg)
	assert.Empty(t, ev.Tags())
}

func TestFilter_SyslogLine_Deterministic(t *testing.T) {
	n := 300000
	if testing.Short() {
		n = 10000
	}
	f := newFilter(t,
		grok.WithMatch("message", "%{SYSLOGLINE}"),
		grok.WithOverwrite("message"),
	)
	ctx := context.Background()

	first := grok.NewMessageEvent(postfixLine)
	require.Equal(t, grok.Matched, f.Filter(ctx, first).Outcome)
	want := first.String()
	for _, field := range []string{"timestamp", "logsource", "program", "pid", "message"} {
		v, ok := first.Get(field)
		require.True(t, ok, field)
		require.NotEmpty(t, v, field)
	}

	for i := 1; i < n; i++ {
		ev := grok.NewMessageEvent(postfixLine)
		res := f.Filter(ctx, ev)
		if res.Outcome != grok.Matched {
			t.Fatalf("event %d: outcome %v", i, res.Outcome)
		}
		if got := ev.String(); got != want {
			t.Fatalf("event %d: fields differ\n got: %s\nwant: %s", i, got, want)
		}
	}
}

func TestFilter_OverwriteMessage(t *testing.T) {
	expr := "%{SYSLOGBASE} %{GREEDYDATA:message}"

	f := newFilter(t, grok.WithMatch("message", expr), grok.WithOverwrite("message"))
	ev := grok.NewMessageEvent(postfixLine)
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	msg, _ := ev.Get("message")
	assert.Equal(t, "connect from camomile.cloud9.net[168.100.1.3]", msg)

	f = newFilter(t, grok.WithMatch("message", expr))
	ev = grok.NewMessageEvent(postfixLine)
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	msg, _ = ev.Get("message")
	assert.Equal(t, []any{postfixLine, "connect from camomile.cloud9.net[168.100.1.3]"}, msg)
}

func timeoutFilter(t *testing.T, scope grok.TimeoutScope, budget time.Duration, opts ...grok.Option) *grok.Filter {
	t.Helper()
	return newFilter(t, append([]grok.Option{
		grok.WithPatternDefinition("EVIL", `(a+)+$`),
		grok.WithMatch("message", "^%{EVIL:evil}", "^%{WORD:word}!$"),
		grok.WithTimeout(budget),
		grok.WithTimeoutScope(scope),
	}, opts...)...)
}

func TestFilter_TimeoutScopePattern(t *testing.T) {
	f := timeoutFilter(t, grok.ScopePattern, 50*time.Millisecond)
	ev := grok.NewMessageEvent(pathological)

	start := time.Now()
	res := f.Filter(context.Background(), ev)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Equal(t, grok.Matched, res.Outcome)
	assert.Equal(t, "^%{WORD:word}!$", res.Pattern)
	word, _ := ev.Get("word")
	assert.Equal(t, strings.Repeat("a", 40), word)
	assert.False(t, ev.Has("evil"))
	assert.Empty(t, ev.Tags())
}

func TestFilter_TimeoutScopeEvent(t *testing.T) {
	f := timeoutFilter(t, grok.ScopeEvent, 50*time.Millisecond)
	ev := grok.NewMessageEvent(pathological)

	start := time.Now()
	res := f.Filter(context.Background(), ev)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Equal(t, grok.TimedOut, res.Outcome)
	assert.Equal(t, []string{grok.DefaultTagOnTimeout}, ev.Tags(), "a timeout is not also a parse failure")
	assert.False(t, ev.Has("word"))
	assert.False(t, ev.Has("evil"))
	msg, _ := ev.Get("message")
	assert.Equal(t, pathological, msg, "the event is otherwise unchanged")
}

func TestFilter_TimeoutWhenNothingElseMatches(t *testing.T) {
	f := newFilter(t,
		grok.WithPatternDefinition("EVIL", `(a+)+$`),
		grok.WithMatch("message", "^%{EVIL:evil}", "^%{INT:n}$"),
		grok.WithTimeout(50*time.Millisecond),
	)
	ev := grok.NewMessageEvent(pathological)
	res := f.Filter(context.Background(), ev)
	assert.Equal(t, grok.TimedOut, res.Outcome)
	assert.Equal(t, []string{grok.DefaultTagOnTimeout}, ev.Tags())
}

func TestFilter_TimeoutDisabled(t *testing.T) {
	f := newFilter(t,
		grok.WithPatternDefinition("EVIL", `(a+)+$`),
		grok.WithMatch("message", "^%{EVIL:evil}"),
		grok.WithTimeout(0),
	)
	ev := grok.NewMessageEvent(strings.Repeat("a", 18) + "!")

	done := make(chan grok.Result, 1)
	go func() { done <- f.Filter(context.Background(), ev) }()
	select {
	case res := <-done:
		assert.Equal(t, grok.NotMatched, res.Outcome)
		assert.Equal(t, []string{grok.DefaultTagOnFailure}, ev.Tags())
	case <-time.After(30 * time.Second):
		t.Fatal("filter did not finish")
	}
	assert.Equal(t, int64(0), f.AbandonedAttempts())
}

func TestFilter_AbandonedAttemptsDrain(t *testing.T) {
	f := timeoutFilter(t, grok.ScopePattern, 20*time.Millisecond)
	for i := 0; i < 5; i++ {
		f.Filter(context.Background(), grok.NewMessageEvent(pathological))
	}
	// The regex engine's own backstop reaps abandoned attempts.
	assert.Eventually(t, func() bool { return f.AbandonedAttempts() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestFilter_TimeoutWarningIsLogged(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	f := timeoutFilter(t, grok.ScopePattern, 20*time.Millisecond, grok.WithLogger(logger))

	f.Filter(context.Background(), grok.NewMessageEvent(pathological))
	out := buf.String()
	assert.Contains(t, out, "grok pattern timed out")
	assert.Contains(t, out, "field=message")
	assert.Contains(t, out, "timeout_scope=pattern")
}

func TestFilter_NoMatchTags(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message", "^%{INT:n}$"))
	ev := grok.NewMessageEvent("not a number")
	res := f.Filter(context.Background(), ev)
	assert.Equal(t, grok.NotMatched, res.Outcome)
	assert.Equal(t, []string{"_grokparsefailure"}, ev.Tags())

	f = newFilter(t, grok.WithMatch("message", "^%{INT:n}$"), grok.WithTagOnFailure("a", "b"))
	ev = grok.NewMessageEvent("not a number")
	f.Filter(context.Background(), ev)
	assert.Equal(t, []string{"a", "b"}, ev.Tags())

	f = newFilter(t, grok.WithMatch("message", "^%{INT:n}$"), grok.WithTagOnFailure())
	ev = grok.NewMessageEvent("not a number")
	f.Filter(context.Background(), ev)
	assert.Empty(t, ev.Tags())
}

func TestFilter_MissingSourceField(t *testing.T) {
	f := newFilter(t, grok.WithMatch("missing", "%{GREEDYDATA:x}"))
	ev := grok.NewMessageEvent("hello")
	res := f.Filter(context.Background(), ev)
	assert.Equal(t, grok.NotMatched, res.Outcome)
	assert.False(t, ev.Has("x"))
	assert.Equal(t, []string{"_grokparsefailure"}, ev.Tags())
}

func TestFilter_EmptyPatternList(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message"))
	res := f.Filter(context.Background(), grok.NewMessageEvent("x"))
	assert.Equal(t, grok.NotMatched, res.Outcome)
}

func TestFilter_CoercionErrorStillMatches(t *testing.T) {
	f := newFilter(t,
		grok.WithMatch("message", `^%{WORD:status:int} %{INT:bytes:int} %{WORD:verb}$`),
		grok.WithTagOnCoercionFailure("_grokcoercionfailure"),
	)
	ev := grok.NewMessageEvent("abc 512 GET")
	res := f.Filter(context.Background(), ev)

	require.Equal(t, grok.Matched, res.Outcome)
	require.Len(t, res.Errors, 1)
	var ce *grok.CoercionError
	require.True(t, errors.As(res.Errors[0], &ce))
	assert.Equal(t, "status", ce.Field)

	assert.False(t, ev.Has("status"))
	bytesVal, _ := ev.Get("bytes")
	assert.Equal(t, int64(512), bytesVal)
	verb, _ := ev.Get("verb")
	assert.Equal(t, "GET", verb)
	assert.Equal(t, []string{"_grokcoercionfailure"}, ev.Tags())
}

func TestFilter_IntCoercionTruncatesDecimals(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message", `^took %{NUMBER:took:int}s$`))
	ev := grok.NewMessageEvent("took 0.043s")
	res := f.Filter(context.Background(), ev)

	require.Equal(t, grok.Matched, res.Outcome)
	assert.Empty(t, res.Errors)
	took, _ := ev.Get("took")
	assert.Equal(t, int64(0), took)
}

func TestFilter_BreakOnMatchDisabled(t *testing.T) {
	f := newFilter(t,
		grok.WithMatch("message", `%{INT:num}`, `%{WORD:word}`, `(?<num>\d+)$`),
		grok.WithBreakOnMatch(false),
	)
	ev := grok.NewMessageEvent("hello 42")
	res := f.Filter(context.Background(), ev)

	require.Equal(t, grok.Matched, res.Outcome)
	assert.Equal(t, `%{INT:num}`, res.Pattern)
	num, _ := ev.Get("num")
	assert.Equal(t, []any{"42", "42"}, num)
	word, _ := ev.Get("word")
	assert.Equal(t, "hello", word)
}

func TestFilter_SourceFieldOrder(t *testing.T) {
	f := newFilter(t,
		grok.WithMatch("first", `^%{INT:n}$`),
		grok.WithMatch("second", `^%{WORD:w}$`),
		grok.WithMatch("third", `^%{WORD:never}$`),
	)
	ev := grok.EventFromMap(map[string]any{"first": "x y", "second": "word", "third": "word"})
	res := f.Filter(context.Background(), ev)

	require.Equal(t, grok.Matched, res.Outcome)
	assert.Equal(t, "second", res.Field)
	assert.True(t, ev.Has("w"))
	assert.False(t, ev.Has("never"), "break on match spans source fields")
}

func TestFilter_WithMatchAppendsForSameField(t *testing.T) {
	f := newFilter(t,
		grok.WithMatch("message", `^%{INT:n}$`),
		grok.WithMatch("message", `^%{WORD:w}$`),
	)
	ev := grok.NewMessageEvent("word")
	res := f.Filter(context.Background(), ev)
	require.Equal(t, grok.Matched, res.Outcome)
	assert.Equal(t, `^%{WORD:w}$`, res.Pattern)
}

func TestFilter_ArraySourceField(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message", `^%{INT:n:int}$`))
	ev := grok.EventFromMap(map[string]any{"message": []any{"nope", "17", map[string]any{"x": 1}}})
	res := f.Filter(context.Background(), ev)
	require.Equal(t, grok.Matched, res.Outcome)
	n, _ := ev.Get("n")
	assert.Equal(t, int64(17), n)
}

func TestFilter_NonStringSourceField(t *testing.T) {
	f := newFilter(t, grok.WithMatch("code", `^%{INT:n:int}$`), grok.WithMatch("ratio", `^%{NUMBER:r:float}$`))
	ev := grok.EventFromMap(map[string]any{"code": 404})
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	n, _ := ev.Get("n")
	assert.Equal(t, int64(404), n)

	ev = grok.EventFromMap(map[string]any{"ratio": 0.5})
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	r, _ := ev.Get("r")
	assert.Equal(t, 0.5, r)
}

func TestFilter_Target(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message", `%{WORD:verb} %{INT:[http][status]:int}`), grok.WithTarget("[parsed]"))
	ev := grok.NewMessageEvent("GET 200")
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	assert.Equal(t, map[string]any{
		"message": "GET 200",
		"parsed": map[string]any{
			"verb": "GET",
			"http": map[string]any{"status": int64(200)},
		},
	}, ev.Map())
}

func TestFilter_NamedCapturesOnlyDisabled(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message", `%{WORD} %{INT:n}`), grok.WithNamedCapturesOnly(false))
	ev := grok.NewMessageEvent("GET 200")
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	w, _ := ev.Get("WORD")
	assert.Equal(t, "GET", w)
}

func TestFilter_KeepEmptyCaptures(t *testing.T) {
	expr := `^%{DATA:user}:%{INT:n}$`
	f := newFilter(t, grok.WithMatch("message", expr))
	ev := grok.NewMessageEvent(":5")
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	assert.False(t, ev.Has("user"))

	f = newFilter(t, grok.WithMatch("message", expr), grok.WithKeepEmptyCaptures(true))
	ev = grok.NewMessageEvent(":5")
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	user, ok := ev.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "", user)
}

func TestFilter_ContextCancelled(t *testing.T) {
	f := newFilter(t, grok.WithMatch("message", "%{SYSLOGLINE}"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := grok.NewMessageEvent(postfixLine)
	res := f.Filter(ctx, ev)
	assert.Equal(t, grok.NotMatched, res.Outcome)
	require.NotEmpty(t, res.Errors)
	assert.ErrorIs(t, res.Errors[0], context.Canceled)
	assert.Empty(t, ev.Tags(), "a cancelled event is not tagged")
}

func TestFilter_Concurrent(t *testing.T) {
	f := newFilter(t,
		grok.WithMatch("message", "%{COMBINEDAPACHELOG}", "%{SYSLOGLINE}"),
		grok.WithTimeout(5*time.Second),
	)
	lines := []string{
		postfixLine,
		`127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326 "-" "curl/8.0"`,
	}

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				line := lines[(g+i)%len(lines)]
				ev := grok.NewMessageEvent(line)
				if res := f.Filter(context.Background(), ev); res.Outcome != grok.Matched {
					errs <- fmt.Errorf("goroutine %d: %q: %v", g, line, res.Outcome)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNew_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		opts    []grok.Option
		want    error
		wantMsg string
	}{
		{
			name: "cyclic reference",
			opts: []grok.Option{
				grok.WithPatternDefinition("A", "%{B}"),
				grok.WithPatternDefinition("B", "%{A}"),
				grok.WithMatch("message", "%{A}"),
			},
			want:    pattern.ErrCyclicPatternReference,
			wantMsg: "match[message][0]",
		},
		{
			name: "unknown reference",
			opts: []grok.Option{grok.WithMatch("message", "%{NOT_DEFINED:x}")},
			want:    pattern.ErrUnknownPatternReference,
			wantMsg: "match[message][0]",
		},
		{
			name: "invalid regex",
			opts: []grok.Option{grok.WithMatch("message", "%{WORD:x} (")},
			want:    pattern.ErrInvalidPatternSyntax,
			wantMsg: "match[message][0]",
		},
		{
			name: "duplicate inline definition",
			opts: []grok.Option{
				grok.WithPatternDefinition("A", "a"),
				grok.WithPatternDefinition("A", "b"),
				grok.WithMatch("message", "%{A}"),
			},
			want:    pattern.ErrDuplicatePatternName,
			wantMsg: "pattern_definitions",
		},
		{
			name: "too deep",
			opts: []grok.Option{
				grok.WithPatternDefinition("A", "%{B}"),
				grok.WithPatternDefinition("B", "%{C}"),
				grok.WithPatternDefinition("C", "c"),
				grok.WithMaxExpansionDepth(2),
				grok.WithMatch("message", "%{A}"),
			},
			want:    pattern.ErrPatternExpansionTooDeep,
			wantMsg: "match[message][0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := grok.New(tt.opts...)
			require.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := grok.New()
	assert.Error(t, err, "a match field is required")

	_, err = grok.New(grok.WithMatch("message", "%{WORD}"), grok.WithTimeout(-time.Second))
	assert.Error(t, err)

	_, err = grok.New(grok.WithMatch("", "%{WORD}"))
	assert.Error(t, err)
}

func TestNew_InlineDefinitionOverridesBuiltin(t *testing.T) {
	var buf syncBuffer
	f := newFilter(t,
		grok.WithPatternDefinition("WORD", `[a-z]+`),
		grok.WithMatch("message", `^%{WORD:w}`),
		grok.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	assert.Equal(t, grok.InlineSourceName, f.Registry().SourceOf("WORD"))
	assert.Contains(t, buf.String(), "pattern overridden")

	ev := grok.NewMessageEvent("abcDEF")
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	w, _ := ev.Get("w")
	assert.Equal(t, "abc", w)
}

func TestNew_PatternsDir(t *testing.T) {
	f := newFilter(t,
		grok.WithPatternsDir("testdata/patterns"),
		grok.WithMatch("message", `%{SYSLOGBASE} %{POSTFIX_CONNECT}`),
	)
	assert.Equal(t, "override.yaml", f.Registry().SourceOf("WORD"))
	assert.Equal(t, "postfix", f.Registry().SourceOf("POSTFIX_CONNECT"))

	ev := grok.NewMessageEvent(postfixLine)
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	client, _ := ev.Get("[postfix][client]")
	assert.Equal(t, "camomile.cloud9.net", client)
	ip, _ := ev.Get("[postfix][client_ip]")
	assert.Equal(t, "168.100.1.3", ip)
}

func TestNew_PatternsFilesGlob(t *testing.T) {
	f := newFilter(t,
		grok.WithPatternsDir("testdata/patterns"),
		grok.WithPatternsFilesGlob("*.yaml"),
		grok.WithMatch("message", `%{WORD:w}`),
	)
	assert.Equal(t, "override.yaml", f.Registry().SourceOf("WORD"))
	_, ok := f.Registry().Lookup("POSTFIX_CONNECT")
	assert.False(t, ok)
}

func TestNew_PatternsDirFromEnvironment(t *testing.T) {
	t.Setenv(patternfinder.EnvPatternsDir, "testdata/patterns")
	f := newFilter(t, grok.WithMatch("message", `%{POSTFIX_QUEUEID:queue_id}`))
	_, ok := f.Registry().Lookup("POSTFIX_QUEUEID")
	assert.True(t, ok)
}

func TestNew_PatternFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.grok")
	require.NoError(t, os.WriteFile(path, []byte("GREETING (?:hello|hi)\n"), 0o600))

	f := newFilter(t, grok.WithPatternFiles(path), grok.WithMatch("message", `^%{GREETING:greeting}`))
	ev := grok.NewMessageEvent("hi there")
	require.Equal(t, grok.Matched, f.Filter(context.Background(), ev).Outcome)
	g, _ := ev.Get("greeting")
	assert.Equal(t, "hi", g)
}

func TestNew_PatternFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.grok")
	require.NoError(t, os.WriteFile(bad, []byte("NAME_ONLY\n"), 0o600))

	_, err := grok.New(grok.WithPatternFiles(bad), grok.WithMatch("message", "%{WORD}"))
	require.ErrorIs(t, err, pattern.ErrInvalidPatternSyntax)
	assert.Contains(t, err.Error(), "bad.grok")
	assert.NotContains(t, err.Error(), dir)

	_, err = grok.New(grok.WithPatternsDir(filepath.Join(dir, "nope")), grok.WithMatch("message", "%{WORD}"))
	require.ErrorIs(t, err, patternfinder.ErrPatternDirNotFound)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger
// shared with abandoned attempts.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
