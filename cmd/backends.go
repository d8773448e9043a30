package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBackendsCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBackends(check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check each backend for readiness")
	return cmd
}

func listBackends(check bool) error {
	ctx := context.Background()
	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := a.pipeline.Registry()
	descs := reg.Descriptors()

	status := make([]string, len(descs))
	if check {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		var g errgroup.Group
		for i, d := range descs {
			g.Go(func() error {
				adapter, err := reg.Get(string(d.ID))
				if err == nil {
					err = adapter.Ready(checkCtx, os.Getenv("LEGALQA_API_KEY"))
				}
				if err != nil {
					status[i] = "unavailable: " + err.Error()
				} else {
					status[i] = "ready"
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFAMILY\tRETRIEVAL\tMAX TOKENS\tSTATUS")
	for i, d := range descs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", d.ID, d.Family, d.SupportsRetrieval, d.Defaults.MaxTokens, status[i])
	}
	return w.Flush()
}
