package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// printlnFn and printFn are test seams for user-facing output.
var (
	printlnFn = fmt.Println
	printFn   = fmt.Print
)

var ErrUnterminatedQuote = errors.New("unterminated quote")

const helpText = `Available commands:
  list                              list shows by date
  show <id>                         print one show
  add <title> <city> <date> [fee]   create a show (date is YYYY-MM-DD)
  set <id> <field>=<value>...       change title, city, venue, date, fee, currency, status or notes
  delete <id>                       delete a show
  queue | failed                    list queued or failed operations
  retry <id> | discard <id>         resolve a failed operation
  clear                             drop every queued and failed operation
  stats                             queue and connectivity summary
  sync                              send queued operations now
  pull                              fetch remote changes now
  events                            recent sync and connectivity events
  offline | online                  switch offline mode
  exit | quit                       leave the program`

// execIface defines the command surface the REPL dispatches to.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	List(ctx context.Context) error
	Show(ctx context.Context, args []string) error
	Add(ctx context.Context, args []string) error
	Set(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Queue(ctx context.Context) error
	Failed(ctx context.Context) error
	Retry(ctx context.Context, args []string) error
	Discard(ctx context.Context, args []string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) error
	Sync(ctx context.Context) error
	Pull(ctx context.Context) error
	Events(ctx context.Context) error
	Offline(ctx context.Context) error
	Online(ctx context.Context) error
}

// runREPL reads commands line by line and dispatches them to a. Errors
// returned by handlers are printed and the loop goes on. The loop exits on
// scanner EOF, on "exit" or "quit", or when ctx is done.
//
// When prompt is set, the current status (from statusFn) is printed before
// each line is read.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner, prompt bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		if prompt {
			printFn(fmt.Sprintf("tk %s> ", statusFn()))
		}
		if !scanner.Scan() {
			return
		}

		parts, err := splitArgs(scanner.Text())
		if err != nil {
			printlnFn("Error:", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		if err := dispatch(ctx, a, cmd, args); err != nil {
			printlnFn("Error:", err)
		}
	}
}

func dispatch(ctx context.Context, a execIface, cmd string, args []string) error {
	switch cmd {
	case "l", "list":
		return a.List(ctx)
	case "show":
		return a.Show(ctx, args)
	case "add":
		return a.Add(ctx, args)
	case "set":
		return a.Set(ctx, args)
	case "delete", "rm":
		return a.Delete(ctx, args)
	case "queue":
		return a.Queue(ctx)
	case "failed":
		return a.Failed(ctx)
	case "retry":
		return a.Retry(ctx, args)
	case "discard":
		return a.Discard(ctx, args)
	case "clear":
		return a.Clear(ctx)
	case "stats":
		return a.Stats(ctx)
	case "sync":
		return a.Sync(ctx)
	case "pull":
		return a.Pull(ctx)
	case "events":
		return a.Events(ctx)
	case "offline":
		return a.Offline(ctx)
	case "online":
		return a.Online(ctx)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// splitArgs splits a line on whitespace. Single or double quotes group
// words, also in the middle of an argument: notes="two words".
func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case unicode.IsSpace(r):
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}

	if quote != 0 {
		return nil, ErrUnterminatedQuote
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
