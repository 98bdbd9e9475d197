package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daoscope/govmatrix/internal/checkpoint"
)

var checkpointClearVotes bool

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and manage extraction checkpoints",
}

var checkpointStatusCmd = &cobra.Command{
	Use:   "status <organization>",
	Short: "Show the saved checkpoint for an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug := slugify(args[0])
		state := checkpoint.NewStore(cfg.Extract.CheckpointDir, slug).Load()

		if state.UpdatedAt.IsZero() {
			fmt.Printf("No checkpoint for %s\n", slug)
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.SetTitle("Checkpoint %s", slug)
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRows([]table.Row{
			{"Updated", state.UpdatedAt.Format("2006-01-02 15:04:05")},
			{"Delegates", len(state.Delegates)},
			{"Delegates complete", state.DelegatesComplete},
			{"Delegate cursor", state.DelegateCursor},
			{"Proposals", len(state.Proposals)},
			{"Proposals complete", state.ProposalsComplete},
		})
		t.Render()
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <organization>",
	Short: "Delete the saved checkpoint for an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug := slugify(args[0])
		if err := checkpoint.NewStore(cfg.Extract.CheckpointDir, slug).Clear(); err != nil {
			return eris.Wrapf(err, "clear checkpoint %s", slug)
		}
		fmt.Printf("Checkpoint cleared for %s\n", slug)

		if !checkpointClearVotes {
			return nil
		}
		st, err := initVoteStore(cmd.Context())
		if err != nil {
			return err
		}
		if st == nil {
			return nil
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate vote store")
		}
		n, err := st.Clear(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "clear vote store")
		}
		zap.L().Info("vote cache cleared", zap.Int("proposals", n))
		fmt.Printf("Vote cache cleared (%d proposals)\n", n)
		return nil
	},
}

func init() {
	checkpointClearCmd.Flags().BoolVar(&checkpointClearVotes, "votes", false, "also clear the cached votes")
	checkpointCmd.AddCommand(checkpointStatusCmd, checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}
