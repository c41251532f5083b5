package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/sync"
)

func newMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the location registry tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts.Config, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := store.Migrate(cmd.Context(), a.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Registry schema is up to date")
			return nil
		},
	}
}

type SyncOptions struct {
	*RootOptions
	LocationID       int64
	Apply            bool
	ApproveConflicts bool
}

func newSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Detect pending changes for one location and optionally apply them",
		Long: `Run a manual detection pass against one remote location and print the
pending changes. With --apply the approved changes are written to the local
database and recorded as a Manual run. Conflicting changes stay unapproved
unless --approve-conflicts is given.

Examples:
  attendance-sync sync --location 3
  attendance-sync sync --location 3 --apply`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().Int64VarP(&opts.LocationID, "location", "l", 0, "location id (required)")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "apply the approved changes")
	cmd.Flags().BoolVar(&opts.ApproveConflicts, "approve-conflicts", false, "approve conflicting changes too")
	_ = cmd.MarkFlagRequired("location")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts.Config, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.manager.Detect(ctx, opts.LocationID)
	if err != nil {
		return err
	}

	if opts.ApproveConflicts {
		d.Changes.ApproveAll()
	}

	out := cmd.OutOrStdout()
	printChanges(out, d)

	if !opts.Apply || len(d.Changes) == 0 {
		return nil
	}

	result, err := a.manager.Apply(ctx, d)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s: %s\n", result.StatusMessage(), result)
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  %s\n", e)
	}
	return nil
}

func printChanges(out io.Writer, d *sync.Detection) {
	counts := d.Changes.CountByType()
	fmt.Fprintf(out, "%s: %d pending (%d new, %d updated, %d conflicts)\n",
		d.Location.Name, len(d.Changes), counts[sync.New], counts[sync.Updated], counts[sync.Conflict])
	for _, t := range d.FailedTables() {
		fmt.Fprintf(out, "  %s could not be read: %s\n", t, d.Failed[t])
	}
	fmt.Fprintln(out)
	if len(d.Changes) == 0 {
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTYPE\tTABLE\tKEY\tAPPROVED\tDESCRIPTION")
	for i, c := range d.Changes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\n", i, c.Type, c.Table, c.RecordKey, c.IsApproved, c.Description)
	}
	tw.Flush()
}

type HistoryOptions struct {
	*RootOptions
	LocationID int64
	Limit      int
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs for a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.Config, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.GetSyncHistory(cmd.Context(), opts.LocationID, opts.Limit, 0)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&opts.LocationID, "location", "l", 0, "location id (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to show")
	_ = cmd.MarkFlagRequired("location")

	return cmd
}

func printHistory(out io.Writer, rows []*store.SyncHistory) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tTYPE\tADDED\tUPDATED\tSKIPPED\tSTATUS")
	for _, h := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			h.ID, h.StartedAt.Local().Format(time.DateTime), h.SyncType,
			h.RecordsAdded, h.RecordsUpdated, h.RecordsSkipped, h.Status)
	}
	tw.Flush()
}
