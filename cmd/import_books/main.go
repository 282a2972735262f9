package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"library-lending/config"
	"library-lending/library"
	"library-lending/logger"
	"library-lending/ui"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// seedFile is the import format:
//
//	{"books": [{"title": "1984", "author": "George Orwell"}],
//	 "users": [{"name": "Ada", "password": "secret"}]}
type seedFile struct {
	Books []seedBook `json:"books"`
	Users []seedUser `json:"users"`
}

type seedBook struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

type seedUser struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

type importResult struct {
	books, users, failed int
}

func main() {
	var configPath, driver, dbPath string

	cmd := &cobra.Command{
		Use:          "import_books FILE",
		Short:        "Load books and users from a JSON seed file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Database.Driver = driver
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}

			log, closer, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("error opening seed file: %w", err)
			}
			defer f.Close()

			seed, err := decodeSeed(f)
			if err != nil {
				return err
			}

			mgr, err := library.NewLibraryManager(cmd.Context(), library.Options{
				Database: library.DatabaseOptions{
					Driver: cfg.Database.Driver,
					DSN:    cfg.Database.DSN,
					Path:   cfg.Database.Path,
				},
				LockWait: cfg.Lending.LockWait,
				Logger:   log,
			})
			if err != nil {
				return fmt.Errorf("error opening database: %w", err)
			}
			defer mgr.Close()

			res := importSeed(cmd.Context(), mgr, seed, os.Stdout)
			fmt.Printf("\nImport complete!\n")
			fmt.Printf("Books imported: %d\n", res.books)
			fmt.Printf("Users imported: %d\n", res.users)
			fmt.Printf("Errors: %d\n", res.failed)

			if res.books > 0 {
				return printCatalog(cmd.Context(), mgr, os.Stdout)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ./library.yaml)")
	cmd.Flags().StringVar(&driver, "driver", "", "store driver: sqlite3, sqlite, postgres or pgx")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		ui.PrintError(os.Stderr, "%v", err)
		os.Exit(1)
	}
}

func decodeSeed(r io.Reader) (*seedFile, error) {
	var seed seedFile
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return nil, fmt.Errorf("error parsing seed file: %w", err)
	}
	return &seed, nil
}

// importSeed adds every entry it can and reports the rest.
func importSeed(ctx context.Context, mgr *library.LibraryManager, seed *seedFile, w io.Writer) importResult {
	var res importResult

	for _, b := range seed.Books {
		fmt.Fprintf(w, "Importing: %s by %s... ", b.Title, b.Author)
		book, err := mgr.Catalog().Create(ctx, b.Title, b.Author)
		if err != nil {
			fmt.Fprintf(w, "ERROR - %v\n", err)
			res.failed++
			continue
		}
		fmt.Fprintf(w, "SUCCESS (ID: %d)\n", book.ID)
		res.books++
	}

	for _, u := range seed.Users {
		fmt.Fprintf(w, "Registering: %s... ", u.Name)
		user, err := mgr.Registry().Create(ctx, u.Name)
		if err == nil && u.Password != "" {
			err = mgr.Registry().SetPassword(ctx, user.ID, u.Password)
		}
		if err != nil {
			fmt.Fprintf(w, "ERROR - %v\n", err)
			res.failed++
			continue
		}
		fmt.Fprintf(w, "SUCCESS (ID: %d)\n", user.ID)
		res.users++
	}
	return res
}

func printCatalog(ctx context.Context, mgr *library.LibraryManager, w io.Writer) error {
	books, err := mgr.Catalog().List(ctx)
	if err != nil {
		return fmt.Errorf("error retrieving books: %w", err)
	}
	fmt.Fprintln(w, "\nCatalog:")
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{strconv.FormatInt(b.ID, 10), b.Title, b.Author})
	}
	ui.Table(w, []string{"ID", "Title", "Author"}, []int{3, 50, 30}, rows)
	fmt.Fprintln(w, strings.Repeat("-", 85))
	return nil
}
