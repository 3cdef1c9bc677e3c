package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	calls []string
	args  [][]string
	fail  map[string]error
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	return f.fail[name]
}

func (f *fakeExec) List(context.Context) error                  { return f.record("list", nil) }
func (f *fakeExec) Show(_ context.Context, a []string) error    { return f.record("show", a) }
func (f *fakeExec) Add(_ context.Context, a []string) error     { return f.record("add", a) }
func (f *fakeExec) Set(_ context.Context, a []string) error     { return f.record("set", a) }
func (f *fakeExec) Delete(_ context.Context, a []string) error  { return f.record("delete", a) }
func (f *fakeExec) Queue(context.Context) error                 { return f.record("queue", nil) }
func (f *fakeExec) Failed(context.Context) error                { return f.record("failed", nil) }
func (f *fakeExec) Retry(_ context.Context, a []string) error   { return f.record("retry", a) }
func (f *fakeExec) Discard(_ context.Context, a []string) error { return f.record("discard", a) }
func (f *fakeExec) Clear(context.Context) error                 { return f.record("clear", nil) }
func (f *fakeExec) Stats(context.Context) error                 { return f.record("stats", nil) }
func (f *fakeExec) Sync(context.Context) error                  { return f.record("sync", nil) }
func (f *fakeExec) Pull(context.Context) error                  { return f.record("pull", nil) }
func (f *fakeExec) Events(context.Context) error                { return f.record("events", nil) }
func (f *fakeExec) Offline(context.Context) error               { return f.record("offline", nil) }
func (f *fakeExec) Online(context.Context) error                { return f.record("online", nil) }

// captureOutput swaps the print seams for a buffer.
func captureOutput(t *testing.T) *strings.Builder {
	t.Helper()
	var sb strings.Builder
	origPrintln, origPrint := printlnFn, printFn
	printlnFn = func(a ...any) (int, error) { return fmt.Fprintln(&sb, a...) }
	printFn = func(a ...any) (int, error) { return fmt.Fprint(&sb, a...) }
	t.Cleanup(func() { printlnFn, printFn = origPrintln, origPrint })
	return &sb
}

func TestRunREPL_Dispatch(t *testing.T) {
	out := captureOutput(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"",
		"l",
		`add "Summer Fest" Berlin 2025-07-01 1500`,
		`set abc notes="two words" fee=10`,
		"SHOW abc",
		"rm abc",
		"queue",
		"failed",
		"retry op1",
		"discard op2",
		"clear",
		"stats",
		"sync",
		"pull",
		"events",
		"offline",
		"online",
		"foobar",
		"exit",
		"list",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewScanner(input), false)

	want := []string{
		"list", "add", "set", "show", "delete", "queue", "failed", "retry", "discard",
		"clear", "stats", "sync", "pull", "events", "offline", "online",
	}
	assert.Equal(t, want, exec.calls)
	assert.Equal(t, []string{"Summer Fest", "Berlin", "2025-07-01", "1500"}, exec.args[1])
	assert.Equal(t, []string{"abc", "notes=two words", "fee=10"}, exec.args[2])

	s := out.String()
	assert.Contains(t, s, "Available commands:")
	assert.Contains(t, s, "Error: unknown command: foobar")
	assert.Contains(t, s, "Bye!")
	assert.NotContains(t, s, "tk status>")
}

func TestRunREPL_PromptAndErrors(t *testing.T) {
	out := captureOutput(t)

	exec := &fakeExec{fail: map[string]error{"sync": errors.New("boom")}}
	input := strings.NewReader("sync\nadd \"unterminated\n")
	runREPL(context.Background(), exec, func() string { return "(online q:0 f:0)" }, bufio.NewScanner(input), true)

	s := out.String()
	assert.Contains(t, s, "tk (online q:0 f:0)> ")
	assert.Contains(t, s, "Error: boom")
	assert.Contains(t, s, "Error: "+ErrUnterminatedQuote.Error())
	assert.Equal(t, []string{"sync"}, exec.calls)
}

func TestRunREPL_StopsOnCancelledContext(t *testing.T) {
	captureOutput(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &fakeExec{}
	runREPL(ctx, exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("list\n")), false)
	assert.Empty(t, exec.calls)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
		err  error
	}{
		{"empty", "   ", nil, nil},
		{"plain", "add a b  c", []string{"add", "a", "b", "c"}, nil},
		{"double quotes", `add "a b" c`, []string{"add", "a b", "c"}, nil},
		{"single quotes", `set x notes='it is'`, []string{"set", "x", "notes=it is"}, nil},
		{"nested other quote", `say "it's"`, []string{"say", "it's"}, nil},
		{"empty quoted", `set x notes=""`, []string{"set", "x", "notes="}, nil},
		{"empty arg", `a "" b`, []string{"a", "", "b"}, nil},
		{"tabs", "a\tb", []string{"a", "b"}, nil},
		{"unterminated", `add "a b`, nil, ErrUnterminatedQuote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitArgs(tt.line)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
