package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/maloquacious/roasteries/internal/session"
	"github.com/maloquacious/roasteries/internal/store"
	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

// historyFile returns the path to the shell history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".roasteries_history")
}

// saveHistory replaces the history file with what write produces.
func saveHistory(path string, write func(io.Writer) (int, error)) error {
	var buf bytes.Buffer
	if _, err := write(&buf); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}

func runShell(cmd *cobra.Command, args []string) error {
	s, _, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	sh := &shell{s: s, out: cmd.OutOrStdout()}
	line.SetCompleter(sh.complete)

	if f, err := os.Open(historyFile()); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if path := historyFile(); path != "" {
			if err := saveHistory(path, line.WriteHistory); err != nil {
				fmt.Fprintf(os.Stderr, "saving history: %v\n", err)
			}
		}
	}()

	fmt.Fprintln(sh.out, "roasteries shell. Type 'help' for commands.")
	for {
		input, err := line.Prompt("roasteries> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(sh.out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := sh.exec(cmd.Context(), input)
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// shell executes one line at a time against the session.
type shell struct {
	s   *session.Session
	out io.Writer
}

var shellCommands = []string{"list", "starred", "visited", "region", "find", "get", "set", "stats", "export", "import", "help", "quit"}

func (sh *shell) complete(input string) []string {
	fields := strings.Fields(input)
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(input, " ")) {
		var out []string
		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(input)) {
				out = append(out, c)
			}
		}
		return out
	}
	return nil
}

// exec runs a single command line. Names containing spaces are quoted or
// escaped: set "Coffee Collective" comment great beans
func (sh *shell) exec(ctx context.Context, input string) (quit bool, err error) {
	args, err := splitArgs(input)
	if err != nil {
		return false, err
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		fmt.Fprintln(sh.out, `Commands:
  list [search]                 list roasteries, optionally filtered by name
  starred | visited             list starred or visited roasteries
  region [NAME]                 list regions, or the roasteries in one
  get NAME                      show one roastery
  set NAME FIELD VALUE...       update a field (`+fieldList()+`)
  stats                         visited and starred counts
  export [FILE]                 write the database to FILE
  import FILE                   replace the database with FILE
  quit                          leave the shell`)
		return false, nil

	case "list", "ls", "find":
		return false, sh.list(ctx, session.Filter{Search: strings.Join(args, " ")})

	case "starred":
		return false, sh.list(ctx, session.Filter{Starred: true})

	case "visited":
		return false, sh.list(ctx, session.Filter{Visited: true})

	case "region":
		if len(args) == 0 {
			return false, printRegions(sh.out, sh.s.Catalog())
		}
		return false, sh.list(ctx, session.Filter{Region: strings.Join(args, " ")})

	case "get":
		if len(args) != 1 {
			return false, errors.New("usage: get NAME")
		}
		r, err := sh.s.Get(ctx, args[0])
		if err != nil {
			return false, err
		}
		return false, printRecord(sh.out, r)

	case "set":
		if len(args) < 2 {
			return false, errors.New("usage: set NAME FIELD VALUE")
		}
		u, err := store.ParseUpdate(args[1], strings.Join(args[2:], " "))
		if err != nil {
			return false, err
		}
		r, err := sh.s.Update(ctx, args[0], u)
		if err != nil {
			return false, err
		}
		return false, printRecord(sh.out, r)

	case "stats":
		st, err := sh.s.Stats(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "Visited: %d/%d  Starred: %d\n", st.Visited, st.Total, st.Starred)
		return false, nil

	case "export":
		path := session.ExportFileName(time.Now())
		if len(args) > 0 {
			path = args[0]
		}
		image, err := sh.s.Export(ctx)
		if err != nil {
			return false, err
		}
		if err := atomic.WriteFile(path, bytes.NewReader(image)); err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "exported to %s\n", path)
		return false, nil

	case "import":
		if len(args) != 1 {
			return false, errors.New("usage: import FILE")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return false, err
		}
		if _, err := sh.s.Import(ctx, data); err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "imported %s\n", args[0])
		return false, nil
	}

	return false, fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
}

func (sh *shell) list(ctx context.Context, f session.Filter) error {
	entries, err := sh.s.List(ctx, f)
	if err != nil {
		return err
	}
	return printEntries(sh.out, entries)
}

// splitArgs splits a command line with shell quoting rules.
func splitArgs(input string) ([]string, error) {
	args, err := shlex.Split(input)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}
