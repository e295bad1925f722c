package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"rpan_bot/internal/storage"
	"rpan_bot/migrations"
)

var commands = []struct{ name, help string }{
	{"up", "apply every pending migration"},
	{"up-by-one", "apply the next migration"},
	{"up-to VERSION", "apply migrations up to VERSION"},
	{"down", "roll back the latest migration"},
	{"down-to VERSION", "roll back to VERSION"},
	{"redo", "roll back and reapply the latest migration"},
	{"status", "list applied and pending migrations"},
	{"version", "print the schema version"},
	{"reset", "roll back every migration"},
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "usage: migrate [flags] <command> [args]")
	fmt.Fprintln(out, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-16s %s\n", c.name, c.help)
	}
	fmt.Fprintln(out, "\nflags:")
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()

	dbURL := flag.String("db", envOrDefault("DATABASE_URL", "./data/bot.db"), "sqlite path or postgres:// url")
	timeout := flag.Duration("timeout", time.Minute, "give up after this long")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	driver, dialect := "sqlite", migrations.SQLite
	if storage.IsPostgresURL(*dbURL) {
		driver, dialect = "pgx", migrations.Postgres
	}

	db, err := sql.Open(driver, *dbURL)
	if err != nil {
		log.Fatalf("open %s database: %v", driver, err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(dialect); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	command := flag.Arg(0)
	if err := goose.RunContext(ctx, command, db, dialect.Dir(), flag.Args()[1:]...); err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
