package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/ui"
)

var errQuit = errors.New("quit")

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runShell(cmd.Context())
		},
	}
}

func (a *app) runShell(ctx context.Context) error {
	fmt.Fprintln(a.out, "Welcome to the Library Lending System!")
	fmt.Fprintln(a.out, "Available commands:")
	fmt.Fprintln(a.out, "  Books: add book, list books, update book, delete book, history")
	fmt.Fprintln(a.out, "  Users: add user, list users, update user, delete user, set password")
	fmt.Fprintln(a.out, "  Circulation: borrow, return")
	fmt.Fprintln(a.out, "  System: exit")

	for {
		fmt.Fprint(a.out, "\n> ")
		line, err := a.in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		err = a.dispatch(ctx, strings.TrimSpace(line))
		if errors.Is(err, errQuit) {
			fmt.Fprintln(a.out, "Goodbye!")
			return nil
		}
		if err != nil {
			ui.PrintError(a.out, "%s", describeError(err))
		}
	}
}

func (a *app) dispatch(ctx context.Context, cmd string) error {
	switch cmd {
	case "":
		return nil
	case "add book":
		title, err := a.ask("Title: ")
		if err != nil {
			return err
		}
		author, err := a.ask("Author: ")
		if err != nil {
			return err
		}
		return a.addBook(ctx, title, author)
	case "list books":
		return a.listBooks(ctx)
	case "update book":
		id, err := a.askID("book")
		if err != nil {
			return err
		}
		title, err := a.ask("New title: ")
		if err != nil {
			return err
		}
		author, err := a.ask("New author: ")
		if err != nil {
			return err
		}
		return a.updateBook(ctx, id, title, author)
	case "delete book":
		id, err := a.askID("book")
		if err != nil {
			return err
		}
		return a.deleteBook(ctx, id)
	case "history":
		id, err := a.askID("book")
		if err != nil {
			return err
		}
		return a.history(ctx, id, false)
	case "add user":
		name, err := a.ask("Name: ")
		if err != nil {
			return err
		}
		secure, err := a.ask("Set a password? (y/N): ")
		if err != nil {
			return err
		}
		return a.addUser(ctx, name, strings.EqualFold(secure, "y"))
	case "list users":
		return a.listUsers(ctx)
	case "update user":
		id, err := a.askID("user")
		if err != nil {
			return err
		}
		name, err := a.ask("New name: ")
		if err != nil {
			return err
		}
		return a.updateUser(ctx, id, name)
	case "delete user":
		id, err := a.askID("user")
		if err != nil {
			return err
		}
		return a.deleteUser(ctx, id)
	case "set password":
		id, err := a.askID("user")
		if err != nil {
			return err
		}
		return a.setPassword(ctx, id)
	case "borrow", "return":
		userID, err := a.askID("user")
		if err != nil {
			return err
		}
		bookID, err := a.askID("book")
		if err != nil {
			return err
		}
		if cmd == "borrow" {
			return a.borrow(ctx, userID, bookID)
		}
		return a.giveBack(ctx, userID, bookID)
	case "exit", "quit":
		return errQuit
	default:
		ui.PrintWarning(a.out, "Unknown command. Type one of the available commands listed above.")
		return nil
	}
}

func (a *app) ask(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) askID(kind string) (int64, error) {
	raw, err := a.ask(strings.ToUpper(kind[:1]) + kind[1:] + " ID: ")
	if err != nil {
		return 0, err
	}
	return parseID(kind, raw)
}
