package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fr0stylo/docmirror/internal/adapters/sqlstore"
	"github.com/fr0stylo/docmirror/internal/bootstrap"
	"github.com/fr0stylo/docmirror/internal/config"
)

const usage = `usage: dlq <command> [args]

commands:
  list [-limit N]        show dead-lettered notifications
  redrive ID [ID...]     move dead letters back onto the queue
  redrive -all           move every dead letter back onto the queue
  purge                  drop expired dead letters and dedup records`

func Run(args []string) error {
	bootstrap.Logger()

	if len(args) == 0 {
		return fmt.Errorf("%s", usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := bootstrap.Database(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()
	queue := bootstrap.Queue(cfg, database)
	ctx := context.Background()

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		limit := fs.Int("limit", 50, "maximum dead letters to show")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return list(ctx, queue, *limit)
	case "redrive":
		fs := flag.NewFlagSet("redrive", flag.ContinueOnError)
		all := fs.Bool("all", false, "redrive every dead letter")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		ids, err := redriveIDs(ctx, queue, *all, fs.Args())
		if err != nil {
			return err
		}
		moved, err := queue.Redrive(ctx, ids)
		if err != nil {
			return err
		}
		fmt.Printf("redrove %d dead letter(s)\n", moved)
		return nil
	case "purge":
		purged, err := queue.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired record(s)\n", purged)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func list(ctx context.Context, queue *sqlstore.Queue, limit int) error {
	letters, err := queue.List(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGE\tGROUP\tRECEIVES\tDEAD AT\tBODY")
	for _, letter := range letters {
		body := strings.TrimSpace(string(letter.Body))
		if len(body) > 80 {
			body = body[:77] + "..."
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%s\n",
			letter.ID, letter.MessageID, letter.GroupID, letter.ReceiveCount, letter.DeadAt.Format(time.RFC3339), body)
	}
	return w.Flush()
}

func redriveIDs(ctx context.Context, queue *sqlstore.Queue, all bool, args []string) ([]int64, error) {
	if all {
		letters, err := queue.List(ctx, 10000)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(letters))
		for _, letter := range letters {
			ids = append(ids, letter.ID)
		}
		return ids, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("redrive needs dead letter ids or -all")
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dead letter id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func main() {
	if err := Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
