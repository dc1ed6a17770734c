package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"labcore/internal/core"
	"labcore/internal/reconcile"
)

// Batch outcome errors. The result has already been printed when either is
// returned.
var (
	// errPartialBatch marks a batch where some items failed and some were written.
	errPartialBatch = errors.New("batch partially failed")
	// errFailedBatch marks a batch where every item failed.
	errFailedBatch = errors.New("every batch item failed")
)

func newReconcileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Upsert lot or result batches for a worklist",
		Long: `Reads a JSON array of items ({"id": ..., "parent": {"worklist_id", "technique_id"}, "fields": {...}})
and upserts each one independently. Items with an id are updated; items with a parent are created.
The command exits with status 2 when some items failed and others were written, and with
status 1 when every item failed.`,
	}
	cmd.AddCommand(
		newReconcileKindCmd(a, "lots", func(c *cobra.Command, svc *core.Service, worklistID string, r io.Reader) (reconcile.Result, error) {
			items, err := decodeItems[core.LotFields](r)
			if err != nil {
				return reconcile.Result{}, err
			}
			return svc.ReconcileLots(c.Context(), worklistID, items)
		}),
		newReconcileKindCmd(a, "results", func(c *cobra.Command, svc *core.Service, worklistID string, r io.Reader) (reconcile.Result, error) {
			items, err := decodeItems[core.ResultFields](r)
			if err != nil {
				return reconcile.Result{}, err
			}
			return svc.ReconcileResults(c.Context(), worklistID, items)
		}),
	)
	return cmd
}

type batchRunner func(cmd *cobra.Command, svc *core.Service, worklistID string, r io.Reader) (reconcile.Result, error)

func newReconcileKindCmd(a *app, kind string, runBatch batchRunner) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   kind + " <worklist-id>",
		Short: fmt.Sprintf("Reconcile a batch of %s", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open batch: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			res, err := runBatch(cmd, svc, args[0], r)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			switch {
			case res.Partial():
				return fmt.Errorf("%w: items %v", errPartialBatch, res.FailedIndexes())
			case !res.Success():
				return fmt.Errorf("%w: items %v", errFailedBatch, res.FailedIndexes())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON batch file, - for stdin")
	return cmd
}

func decodeItems[F any](r io.Reader) ([]reconcile.Item[F], error) {
	var items []reconcile.Item[F]
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return items, nil
}
