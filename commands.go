package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"library-lending/library"
	"library-lending/ui"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newBookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Manage the book catalog",
	}

	var title, author string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.addBook(cmd.Context(), title, author)
		},
	}
	add.Flags().StringVar(&title, "title", "", "book title")
	add.Flags().StringVar(&author, "author", "", "book author")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("author")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active books with their holders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listBooks(cmd.Context())
		},
	}

	var newTitle, newAuthor string
	update := &cobra.Command{
		Use:   "update BOOK_ID",
		Short: "Change the title and author of an available book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			return a.updateBook(cmd.Context(), id, newTitle, newAuthor)
		},
	}
	update.Flags().StringVar(&newTitle, "title", "", "new title")
	update.Flags().StringVar(&newAuthor, "author", "", "new author")
	_ = update.MarkFlagRequired("title")
	_ = update.MarkFlagRequired("author")

	del := &cobra.Command{
		Use:   "delete BOOK_ID",
		Short: "Remove an available book from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			return a.deleteBook(cmd.Context(), id)
		},
	}

	cmd.AddCommand(add, list, update, del)
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage library users",
	}

	var name string
	var withPassword bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.addUser(cmd.Context(), name, withPassword)
		},
	}
	add.Flags().StringVar(&name, "name", "", "user name")
	add.Flags().BoolVar(&withPassword, "password", false, "prompt for a password")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listUsers(cmd.Context())
		},
	}

	var newName string
	update := &cobra.Command{
		Use:   "update USER_ID",
		Short: "Rename a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			return a.updateUser(cmd.Context(), id, newName)
		},
	}
	update.Flags().StringVar(&newName, "name", "", "new name")
	_ = update.MarkFlagRequired("name")

	del := &cobra.Command{
		Use:   "delete USER_ID",
		Short: "Remove a user who holds no books",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			return a.deleteUser(cmd.Context(), id)
		},
	}

	passwd := &cobra.Command{
		Use:   "passwd USER_ID",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			return a.setPassword(cmd.Context(), id)
		},
	}

	cmd.AddCommand(add, list, update, del, passwd)
	return cmd
}

func newBorrowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow USER_ID BOOK_ID",
		Short: "Lend a book to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, bookID, err := parseUserBook(args[0], args[1])
			if err != nil {
				return err
			}
			return a.borrow(cmd.Context(), userID, bookID)
		},
	}
}

func newReturnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return USER_ID BOOK_ID",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, bookID, err := parseUserBook(args[0], args[1])
			if err != nil {
				return err
			}
			return a.giveBack(cmd.Context(), userID, bookID)
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history BOOK_ID",
		Short: "Show the lending ledger of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			return a.history(cmd.Context(), id, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func parseUserBook(rawUser, rawBook string) (int64, int64, error) {
	userID, err := parseID("user", rawUser)
	if err != nil {
		return 0, 0, err
	}
	bookID, err := parseID("book", rawBook)
	if err != nil {
		return 0, 0, err
	}
	return userID, bookID, nil
}

// ---------------------------------------------------------------------------
// Handlers shared by the subcommands and the interactive shell
// ---------------------------------------------------------------------------

func (a *app) addBook(ctx context.Context, title, author string) error {
	title, err := validateText("title", title)
	if err != nil {
		return err
	}
	author, err = validateText("author", author)
	if err != nil {
		return err
	}
	b, err := a.mgr.Catalog().Create(ctx, title, author)
	if err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "Book added with ID %d", b.ID)
	return nil
}

func (a *app) listBooks(ctx context.Context) error {
	books, err := a.mgr.ListBookStatus(ctx)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		ui.PrintInfo(a.out, "No books in the catalog")
		return nil
	}
	rows := make([][]string, 0, len(books))
	for _, st := range books {
		status := "Available"
		if !st.Book.Available {
			status = "Borrowed"
			if st.Holder != nil {
				status = fmt.Sprintf("Borrowed by %s (#%d)", st.Holder.Name, st.Holder.ID)
			}
		}
		rows = append(rows, []string{
			strconv.FormatInt(st.Book.ID, 10), st.Book.Title, st.Book.Author, status,
		})
	}
	ui.Table(a.out, []string{"ID", "Title", "Author", "Status"}, []int{5, 30, 22, 30}, rows)
	return nil
}

func (a *app) updateBook(ctx context.Context, id int64, title, author string) error {
	title, err := validateText("title", title)
	if err != nil {
		return err
	}
	author, err = validateText("author", author)
	if err != nil {
		return err
	}
	if err := a.mgr.Catalog().Update(ctx, id, title, author); err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "Book %d updated", id)
	return nil
}

func (a *app) deleteBook(ctx context.Context, id int64) error {
	if err := a.mgr.Catalog().SoftDelete(ctx, id); err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "Book %d deleted", id)
	return nil
}

func (a *app) addUser(ctx context.Context, name string, withPassword bool) error {
	name, err := validateText("name", name)
	if err != nil {
		return err
	}
	var password string
	if withPassword {
		if password, err = a.readPassword("Password: "); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}
	u, err := a.mgr.Registry().Create(ctx, name)
	if err != nil {
		return err
	}
	if password != "" {
		if err := a.mgr.Registry().SetPassword(ctx, u.ID, password); err != nil {
			return err
		}
	}
	ui.PrintSuccess(a.out, "User added with ID %d", u.ID)
	return nil
}

func (a *app) listUsers(ctx context.Context) error {
	users, err := a.mgr.Registry().List(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		ui.PrintInfo(a.out, "No registered users")
		return nil
	}
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		secured := "no"
		if u.HasPassword() {
			secured = "yes"
		}
		rows = append(rows, []string{strconv.FormatInt(u.ID, 10), u.Name, secured})
	}
	ui.Table(a.out, []string{"ID", "Name", "Password"}, []int{5, 30, 8}, rows)
	return nil
}

func (a *app) updateUser(ctx context.Context, id int64, name string) error {
	name, err := validateText("name", name)
	if err != nil {
		return err
	}
	if err := a.mgr.Registry().Update(ctx, id, name); err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "User %d updated", id)
	return nil
}

func (a *app) deleteUser(ctx context.Context, id int64) error {
	if err := a.mgr.Registry().SoftDelete(ctx, id); err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "User %d deleted", id)
	return nil
}

func (a *app) setPassword(ctx context.Context, id int64) error {
	current, err := a.credentialFor(ctx, id)
	if err != nil {
		return err
	}
	if err := a.mgr.Registry().Authenticate(ctx, id, current); err != nil {
		return err
	}
	password, err := a.readPassword("New password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if err := a.mgr.Registry().SetPassword(ctx, id, password); err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "Password updated for user %d", id)
	return nil
}

func (a *app) borrow(ctx context.Context, userID, bookID int64) error {
	password, err := a.credentialFor(ctx, userID)
	if err != nil {
		return err
	}
	if err := a.mgr.Borrow(ctx, userID, bookID, password); err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "Book %d borrowed by user %d", bookID, userID)
	return nil
}

func (a *app) giveBack(ctx context.Context, userID, bookID int64) error {
	password, err := a.credentialFor(ctx, userID)
	if err != nil {
		return err
	}
	if err := a.mgr.Return(ctx, userID, bookID, password); err != nil {
		return err
	}
	ui.PrintSuccess(a.out, "Book %d returned by user %d", bookID, userID)
	return nil
}

// historyEntry is the JSON shape of one ledger line.
type historyEntry struct {
	Seq           int64     `json:"seq"`
	UserID        int64     `json:"user_id"`
	BookID        int64     `json:"book_id"`
	Action        string    `json:"action"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id"`
}

func (a *app) history(ctx context.Context, bookID int64, asJSON bool) error {
	if _, err := a.mgr.Catalog().Get(ctx, bookID); err != nil {
		return err
	}
	entries, err := a.mgr.Ledger().History(ctx, bookID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeHistoryJSON(a.out, entries)
	}
	if len(entries) == 0 {
		ui.PrintInfo(a.out, "Book %d has never been borrowed", bookID)
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			string(e.Action),
			strconv.FormatInt(e.UserID, 10),
			e.OccurredAt.Local().Format(time.DateTime),
		})
	}
	ui.Table(a.out, []string{"Seq", "Action", "User", "When"}, []int{6, 8, 6, 20}, rows)
	return nil
}

func writeHistoryJSON(w io.Writer, entries []library.TransactionEntry) error {
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			Seq:           e.Seq,
			UserID:        e.UserID,
			BookID:        e.BookID,
			Action:        string(e.Action),
			OccurredAt:    e.OccurredAt.UTC(),
			CorrelationID: e.CorrelationID.String(),
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
