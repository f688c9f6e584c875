package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/tabletop/go/internal/dbconfig"
)

// Prunes old rows from interaction_archive. Run from cron; anything older
// than the retention window is dropped.
func main() {
	retentionDays := flag.Int("retention-days", 180, "delete archives completed more than this many days ago")
	dryRun := flag.Bool("dry-run", false, "report what would be deleted without deleting")
	flag.Parse()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	cutoff := time.Now().AddDate(0, 0, -*retentionDays)

	if *dryRun {
		var count int
		err := pool.QueryRow(context.Background(),
			`SELECT count(*) FROM interaction_archive WHERE completed_at < $1`, cutoff,
		).Scan(&count)
		if err != nil {
			fmt.Fprintf(os.Stderr, "count query failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Archive prune (dry run): %d rows older than %s\n", count, cutoff.Format(time.RFC3339))
		return
	}

	cmdTag, err := pool.Exec(context.Background(),
		`DELETE FROM interaction_archive WHERE completed_at < $1`, cutoff,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf(
		"Archive prune complete: %d rows deleted (cutoff %s)\n",
		cmdTag.RowsAffected(), cutoff.Format(time.RFC3339),
	)
}
