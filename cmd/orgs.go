package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/daoscope/govmatrix/internal/checkpoint"
	"github.com/daoscope/govmatrix/internal/export"
	"github.com/daoscope/govmatrix/internal/extract"
	"github.com/daoscope/govmatrix/internal/model"
)

var orgsCmd = &cobra.Command{
	Use:   "orgs <organization>",
	Short: "Resolve an organization and show its governance stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		name := args[0]
		slug := slugify(name)
		client := newTallyClient()

		ext := extract.New(client, checkpoint.NewStore(cfg.Extract.CheckpointDir, slug),
			nil, export.New(cfg.Output.Dir, slug), extract.Options{})

		org, err := ext.ResolveOrganization(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "resolve %s", name)
		}

		p := message.NewPrinter(language.English)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRows(orgRows(org, p))
		t.Render()

		for _, id := range org.GovernorIDs {
			gov, err := client.Governor(ctx, id)
			if err != nil {
				zap.L().Warn("governor stats unavailable",
					zap.String("governor_id", id), zap.Error(err))
				continue
			}

			gt := table.NewWriter()
			gt.SetOutputMirror(os.Stdout)
			gt.SetStyle(table.StyleLight)
			gt.SetTitle("Governor %s", gov.ID)
			gt.AppendHeader(table.Row{"Field", "Value"})
			gt.AppendRows(governorRows(gov, p))
			gt.Render()
		}
		return nil
	},
}

func orgRows(org *model.Organization, p *message.Printer) []table.Row {
	return []table.Row{
		{"Name", org.Name},
		{"Slug", org.Slug},
		{"ID", org.ID},
		{"Governors", len(org.GovernorIDs)},
		{"Delegates", p.Sprintf("%d", org.DelegatesCount)},
		{"Proposals", p.Sprintf("%d", org.ProposalsCount)},
		{"Token owners", p.Sprintf("%d", org.TokenOwners)},
		{"Active proposals", org.HasActiveProps},
	}
}

func governorRows(gov *model.Governor, p *message.Printer) []table.Row {
	return []table.Row{
		{"Name", gov.Name},
		{"Kind", gov.Kind},
		{"Token", gov.TokenSymbol},
		{"Quorum", gov.Quorum},
		{"Delegates", p.Sprintf("%d", gov.DelegatesCount)},
		{"Token owners", p.Sprintf("%d", gov.TokenOwners)},
		{"Proposals", p.Sprintf("%d", gov.ProposalsTotal)},
		{"Passed", p.Sprintf("%d", gov.ProposalsPassed)},
		{"Failed", p.Sprintf("%d", gov.ProposalsFailed)},
		{"Active", p.Sprintf("%d", gov.ProposalsActive)},
	}
}

func init() {
	rootCmd.AddCommand(orgsCmd)
}
