package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/config"
	"library-lending/library"
	"library-lending/logger"
	"library-lending/ui"
)

// app carries the wiring shared by every command.
type app struct {
	configPath string
	mgr        *library.LibraryManager
	log        *slog.Logger
	logCloser  io.Closer

	in  *bufio.Reader
	out io.Writer
}

func main() {
	a := &app{in: bufio.NewReader(os.Stdin), out: os.Stdout}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		ui.PrintError(os.Stderr, "%s", describeError(err))
		a.close()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "library",
		Short: "Library lending system",
		Long: `Manage books, users and the borrow/return ledger of a small library.
Books that are lent out cannot be edited or deleted, and users holding
books cannot be deleted.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./library.yaml)")
	flags.String("driver", "", "store driver: sqlite3, sqlite, postgres, pgx or memory")
	flags.String("db", "", "SQLite database file")
	flags.String("dsn", "", "database DSN (postgres drivers)")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newBookCmd(a),
		newUserCmd(a),
		newBorrowCmd(a),
		newReturnCmd(a),
		newHistoryCmd(a),
		newShellCmd(a),
	)
	return root
}

// open loads configuration, sets up logging and opens the library store.
func (a *app) open(cmd *cobra.Command, _ []string) error {
	v, err := config.New(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"database.driver": "driver",
		"database.path":   "db",
		"database.dsn":    "dsn",
		"log.level":       "log-level",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	a.log, a.logCloser, err = logger.New(cfg.Log)
	if err != nil {
		return err
	}

	a.mgr, err = library.NewLibraryManager(cmd.Context(), library.Options{
		Database: library.DatabaseOptions{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		},
		LockWait: cfg.Lending.LockWait,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	a.log.Debug("library opened", "driver", cfg.Database.Driver)
	return nil
}

func (a *app) close() error {
	var err error
	if a.mgr != nil {
		err = a.mgr.Close()
		a.mgr = nil
	}
	if a.logCloser != nil {
		a.logCloser.Close()
		a.logCloser = nil
	}
	return err
}

// ---------------------------------------------------------------------------
// Input helpers
// ---------------------------------------------------------------------------

var validText = regexp.MustCompile(`^[a-zA-Z0-9 .,'-]+$`)

// validateText accepts letters, digits, spaces and common punctuation.
func validateText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if !validText.MatchString(value) {
		return "", fmt.Errorf("invalid %s: %q", field, value)
	}
	return value, nil
}

func parseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s ID: %s", kind, raw)
	}
	return id, nil
}

// readPassword reads a password, masking it when stdin is a terminal.
func (a *app) readPassword(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(a.out) // Add newline after password input
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// credentialFor prompts for the user's password only when one is set.
func (a *app) credentialFor(ctx context.Context, userID int64) (string, error) {
	u, err := a.mgr.Registry().Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if !u.HasPassword() {
		return "", nil
	}
	return a.readPassword(fmt.Sprintf("Password for %s: ", u.Name))
}

// describeError renders one message per error kind.
func describeError(err error) string {
	msg := err.Error()
	var le *library.Error
	if errors.As(err, &le) {
		msg = le.UserMessage()
	}
	switch {
	case library.IsNotFound(err):
		return "Not found: " + msg
	case library.IsConflict(err):
		return "Not allowed: " + msg
	case library.IsUnauthorized(err):
		return "Unauthorized: " + msg
	case library.IsNoRecord(err):
		return "No record: " + msg
	case library.IsBusy(err):
		return "Busy, try again: " + msg
	case library.IsInvalidInput(err):
		return "Invalid input: " + msg
	case library.IsStorage(err):
		return "Storage error: " + err.Error()
	default:
		return msg
	}
}
