package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daoscope/govmatrix/internal/checkpoint"
	"github.com/daoscope/govmatrix/internal/export"
	"github.com/daoscope/govmatrix/internal/extract"
	"github.com/daoscope/govmatrix/internal/store"
	"github.com/daoscope/govmatrix/pkg/tally"
)

var (
	extractOutputDir    string
	extractFresh        bool
	extractMaxDelegates int
	extractMaxProposals int
)

var extractCmd = &cobra.Command{
	Use:   "extract <organization>",
	Short: "Extract a full voting matrix for one organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		name := args[0]
		slug := slugify(name)

		checkpoints := checkpoint.NewStore(cfg.Extract.CheckpointDir, slug)
		if extractFresh {
			if err := checkpoints.Clear(); err != nil {
				return eris.Wrap(err, "clear checkpoint")
			}
		}

		st, err := initVoteStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate vote store")
			}
			if extractFresh {
				n, err := st.Clear(ctx)
				if err != nil {
					return eris.Wrap(err, "clear vote store")
				}
				zap.L().Info("vote cache cleared", zap.Int("proposals", n))
			}
		}

		outputDir := cfg.Output.Dir
		if extractOutputDir != "" {
			outputDir = extractOutputDir
		}

		ext := extract.New(
			newTallyClient(),
			checkpoints,
			st,
			export.New(outputDir, slug),
			extract.Options{
				DelegateBatch:     cfg.Extract.DelegateBatch,
				ProposalBatch:     cfg.Extract.ProposalBatch,
				VoteBatch:         cfg.Extract.VoteBatch,
				DelegateMaxStalls: cfg.Extract.DelegateMaxStalls,
				VoteMaxStalls:     cfg.Extract.VoteMaxStalls,
				MaxDelegates:      maxOrDefault(extractMaxDelegates, cfg.Extract.MaxDelegates),
				MaxProposals:      maxOrDefault(extractMaxProposals, cfg.Extract.MaxProposals),
			},
		)

		report, files, err := ext.Run(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "extract %s", name)
		}

		fmt.Printf("Extracted %s: %d delegates x %d proposals, %d votes (%.2f%% participation)\n",
			report.OrgName, report.Delegates, report.Proposals,
			report.VotesExtracted, report.Participation)
		fmt.Printf("  matrix:    %s\n", files.Matrix)
		fmt.Printf("  delegates: %s\n", files.DelegateSummary)
		fmt.Printf("  proposals: %s\n", files.ProposalAnalysis)
		fmt.Printf("  workbook:  %s\n", files.Workbook)
		fmt.Printf("  report:    %s\n", files.Report)
		return nil
	},
}

// slugify derives the checkpoint and export slug from the organization name.
// It must match the primary lookup candidate so resumed runs find their own
// checkpoint file.
func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

func maxOrDefault(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

func newTallyClient() *tally.Client {
	opts := []tally.Option{
		tally.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Tally.TimeoutSecs) * time.Second}),
		tally.WithPacing(
			time.Duration(cfg.Tally.MinDelaySecs*float64(time.Second)),
			time.Duration(cfg.Tally.MaxDelaySecs*float64(time.Second)),
		),
		tally.WithRetry(
			cfg.Tally.MaxRetries,
			time.Duration(cfg.Tally.BackoffSecs)*time.Second,
			time.Duration(cfg.Tally.MaxBackoffSecs)*time.Second,
		),
	}
	if cfg.Tally.Endpoint != "" {
		opts = append(opts, tally.WithEndpoint(cfg.Tally.Endpoint))
	}
	return tally.NewClient(cfg.Tally.Key, opts...)
}

func initVoteStore(ctx context.Context) (store.VoteStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite vote store")
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres vote store")
		}
		return st, nil
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutputDir, "output", "o", "", "output directory (default from config)")
	extractCmd.Flags().BoolVar(&extractFresh, "fresh", false, "discard checkpoint and cached votes before running")
	extractCmd.Flags().IntVar(&extractMaxDelegates, "max-delegates", 0, "cap delegates fetched (0 = unlimited)")
	extractCmd.Flags().IntVar(&extractMaxProposals, "max-proposals", 0, "cap proposals fetched (0 = unlimited)")
	rootCmd.AddCommand(extractCmd)
}
