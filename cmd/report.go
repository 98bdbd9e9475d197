package main

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/daoscope/govmatrix/internal/model"
)

var (
	reportDir          string
	reportTopDelegates int
	reportTopProposals int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the most recent run report and top delegates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Output.Dir
		if reportDir != "" {
			dir = reportDir
		}

		reportPath, err := latestFile(dir, "*_run_report_*.json")
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(reportPath)
		if err != nil {
			return eris.Wrap(err, "read run report")
		}
		var report model.RunReport
		if err := json.Unmarshal(raw, &report); err != nil {
			return eris.Wrap(err, "parse run report")
		}

		p := message.NewPrinter(language.English)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.SetTitle("Run %s (%s)", report.RunID, report.OrgName)
		t.AppendHeader(table.Row{"Metric", "Value"})
		t.AppendRows([]table.Row{
			{"Started", report.StartedAt.Format("2006-01-02 15:04:05")},
			{"Finished", report.FinishedAt.Format("2006-01-02 15:04:05")},
			{"Duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Second).String()},
			{"Delegates", p.Sprintf("%d", report.Delegates)},
			{"Proposals", p.Sprintf("%d", report.Proposals)},
			{"Matrix records", p.Sprintf("%d", report.TotalRecords)},
			{"Votes extracted", p.Sprintf("%d", report.VotesExtracted)},
			{"Unique voters", p.Sprintf("%d", report.UniqueVoters)},
			{"Participation", p.Sprintf("%.2f%%", report.Participation)},
			{"API requests", p.Sprintf("%d", report.Requests)},
			{"API failures", p.Sprintf("%d", report.RequestFailures)},
			{"Rate limited", p.Sprintf("%d", report.RateLimited)},
			{"Emergency export", report.Emergency},
		})
		t.Render()

		if reportTopDelegates > 0 {
			if err := renderSummaryCSV(dir, "*_delegate_summary_*.csv", "Top delegates", reportTopDelegates); err != nil {
				return err
			}
		}
		if reportTopProposals > 0 {
			if err := renderSummaryCSV(dir, "*_proposal_analysis_*.csv", "Proposal outcomes", reportTopProposals); err != nil {
				return err
			}
		}
		return nil
	},
}

// latestFile returns the newest file in dir matching pattern, by mtime.
func latestFile(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", eris.Wrap(err, "glob output dir")
	}
	if len(matches) == 0 {
		return "", eris.Errorf("no files matching %s in %s", pattern, dir)
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] > matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0], nil
}

// renderSummaryCSV prints the newest matching summary CSV as a table. A
// missing file is not an error; emergency runs only write the matrix.
func renderSummaryCSV(dir, pattern, title string, limit int) error {
	path, err := latestFile(dir, pattern)
	if err != nil {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "open %s", filepath.Base(path))
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return eris.Wrapf(err, "read %s", filepath.Base(path))
	}
	if len(rows) < 2 {
		return nil
	}
	header, body := rows[0], rows[1:]

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s (%s)", title, filepath.Base(path))
	t.AppendHeader(table.Row(lo.Map(header, func(h string, _ int) any { return h })))
	for _, row := range lo.Slice(body, 0, limit) {
		t.AppendRow(table.Row(lo.Map(row, func(c string, _ int) any { return c })))
	}
	t.Render()
	return nil
}

func init() {
	reportCmd.Flags().StringVarP(&reportDir, "dir", "d", "", "output directory to read (default from config)")
	reportCmd.Flags().IntVar(&reportTopDelegates, "top", 10, "delegates to show from the latest summary (0 = skip)")
	reportCmd.Flags().IntVar(&reportTopProposals, "proposals", 10, "proposals to show from the latest analysis (0 = skip)")
	rootCmd.AddCommand(reportCmd)
}
