package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fr0stylo/docmirror/internal/adapters/sqlstore"
	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/app/services"
	"github.com/fr0stylo/docmirror/internal/bootstrap"
	"github.com/fr0stylo/docmirror/internal/config"
)

const usage = `usage: inspect <mirror key | manifest uri> [...]

shows the item row, collaborations and object presence behind each location`

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
	mirrorStore, err := bootstrap.Mirror(cfg)
	if err != nil {
		return err
	}
	store := sqlstore.NewMetadataStore(database)
	ctx := context.Background()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, location := range args {
		record, err := services.InspectMirrorKey(ctx, store, mirrorStore, location)
		if errors.Is(err, ports.ErrItemNotFound) {
			fmt.Fprintf(w, "%s\tno item backs this location\n", location)
			continue
		}
		if err != nil {
			return err
		}
		printRecord(w, location, record)
	}
	return w.Flush()
}

func printRecord(w *tabwriter.Writer, location string, record services.MirrorRecord) {
	item := record.Item
	state := "live"
	if item.Tombstoned() {
		state = "tombstoned " + item.TombstonedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%s\titem=%s\ttype=%s\tname=%s\t%s\n", location, item.ID, item.SourceType, item.Name, state)
	fmt.Fprintf(w, "\tsynced=%s\tcontent=%t\tsidecar=%t\n", item.SyncedAt.Format(time.RFC3339), record.ContentPresent, record.SidecarPresent)
	for _, collaboration := range record.Collaborations {
		fmt.Fprintf(w, "\t%s\t%s\t%s\n", collaboration.AccessibleType, collaboration.AccessibleName, collaboration.Role)
	}
}

func main() {
	if err := Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
