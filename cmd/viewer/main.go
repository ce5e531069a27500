// Command viewer browses the analysis log in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/joho/godotenv/autoload"

	"bloodreport/internal/config"
	"bloodreport/internal/database"
	"bloodreport/internal/database/migration"
	"bloodreport/internal/logging"
	"bloodreport/internal/repository/sqlstore"
	"bloodreport/internal/viewer"
)

func main() {
	last := flag.Int("n", 0, "print the last N entries and exit")
	all := flag.Bool("all", false, "print every entry and exit")
	flag.Parse()

	cfg := config.Load()
	if err := run(cfg, *last, *all); err != nil {
		fmt.Fprintln(os.Stderr, "viewer:", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, last int, all bool) error {
	ctx := context.Background()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// Migration logs would interleave with the menu.
	quiet := logging.New(io.Discard, cfg.Location())
	name := cfg.Database.Path
	if cfg.Database.Driver == config.DriverPostgres {
		name = cfg.Database.Name
	}
	if err := migration.EnsureMigrated(ctx, db, cfg.Database.Driver, quiet, name); err != nil {
		return err
	}

	repo := sqlstore.NewAnalysisStore(sqlx.NewDb(db, database.BindDriver(cfg.Database.Driver)))
	v := viewer.New(repo, name, os.Stdin, os.Stdout, cfg.Location())

	switch {
	case all:
		return v.Show(ctx, 0)
	case last > 0:
		return v.Show(ctx, last)
	default:
		return v.Run(ctx)
	}
}
