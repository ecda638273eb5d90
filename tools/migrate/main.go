// Command migrate applies the embedded goose migrations.
//
//	migrate [-database-url URL] up|down|status|version|validate
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/garageflow/garageflow/libs/config"
	"github.com/garageflow/garageflow/libs/db"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		fatal(err)
	}
	databaseURL := flag.String("database-url", config.String("DATABASE_URL", ""), "postgres connection url")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	command, args := "up", flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if command == "validate" {
		if err := db.ValidateEmbedded(); err != nil {
			fatal(err)
		}
		names, _ := db.MigrationNames()
		fmt.Printf("%d migrations ok\n", len(names))
		return
	}

	if *databaseURL == "" {
		fatal(fmt.Errorf("DATABASE_URL is required"))
	}
	if err := db.ValidateEmbedded(); err != nil {
		fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := db.Migrate(ctx, *databaseURL, command, args...); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
