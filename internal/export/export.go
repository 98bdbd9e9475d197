// Package export writes assembled voting-matrix results to disk as CSV,
// XLSX, and JSON artifacts.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/daoscope/govmatrix/internal/matrix"
	"github.com/daoscope/govmatrix/internal/model"
)

// Files lists the artifact paths produced by one export pass.
type Files struct {
	Matrix           string `json:"matrix,omitempty"`
	DelegateSummary  string `json:"delegate_summary,omitempty"`
	ProposalAnalysis string `json:"proposal_analysis,omitempty"`
	Workbook         string `json:"workbook,omitempty"`
	Report           string `json:"report,omitempty"`
}

// Exporter writes result artifacts into a directory with slug-and-timestamp
// file names so successive runs never clobber each other.
type Exporter struct {
	dir  string
	slug string
	now  func() time.Time
}

// New creates an Exporter rooted at dir. The directory is created on demand.
func New(dir, slug string) *Exporter {
	return &Exporter{dir: dir, slug: slug, now: time.Now}
}

// matrixColumns defines the ordered voting matrix CSV output columns.
var matrixColumns = []string{
	"delegate_address",
	"delegate_name",
	"delegate_ens",
	"delegate_votes_count",
	"delegate_delegators_count",
	"has_statement",
	"seeking_delegation",
	"proposal_id",
	"proposal_onchain_id",
	"proposal_title",
	"proposal_status",
	"proposal_start_timestamp",
	"proposal_end_timestamp",
	"vote",
	"voting_amount",
	"vote_type_raw",
	"vote_reason",
	"vote_timestamp",
	"vote_block_number",
	"vote_tx_hash",
	"participated",
}

var delegateColumns = []string{
	"address",
	"name",
	"ens",
	"votes_cast",
	"total_proposals",
	"participation_rate",
	"votes_for",
	"votes_against",
	"votes_abstain",
	"votes_voted",
	"votes_unknown",
	"voting_power",
	"delegators_count",
	"has_statement",
	"seeking_delegation",
}

var proposalColumns = []string{
	"proposal_id",
	"title",
	"status",
	"unique_voters",
	"eligible_delegates",
	"participation_rate",
	"votes_for",
	"votes_against",
	"votes_abstain",
	"votes_voted",
	"votes_unknown",
	"start_timestamp",
	"end_timestamp",
}

// ExportAll writes the full artifact set: matrix CSV, both summary CSVs,
// an XLSX workbook, and the JSON run report.
func (e *Exporter) ExportAll(res matrix.Result, report model.RunReport) (Files, error) {
	var files Files

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return files, eris.Wrap(err, "export: create output dir")
	}

	path, err := e.WriteMatrixCSV(res.Records)
	if err != nil {
		return files, err
	}
	files.Matrix = path

	if files.DelegateSummary, err = e.WriteDelegateSummaryCSV(res.DelegateSummaries); err != nil {
		return files, err
	}
	if files.ProposalAnalysis, err = e.WriteProposalAnalysisCSV(res.ProposalSummaries); err != nil {
		return files, err
	}
	if files.Workbook, err = e.WriteWorkbook(res); err != nil {
		return files, err
	}
	if files.Report, err = e.WriteRunReport(report); err != nil {
		return files, err
	}

	zap.L().Info("export complete",
		zap.String("dir", e.dir),
		zap.Int("records", len(res.Records)),
		zap.String("matrix", files.Matrix))
	return files, nil
}

// ExportEmergency writes whatever partial results exist after a failed run.
// Only the matrix CSV and run report are attempted; errors are logged and
// do not mask the failure that triggered the export.
func (e *Exporter) ExportEmergency(res matrix.Result, report model.RunReport) Files {
	var files Files
	report.Emergency = true

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		zap.L().Error("emergency export: create output dir", zap.Error(err))
		return files
	}

	path, err := e.writeCSV(e.filename("EMERGENCY_voting_matrix", "csv"), matrixColumns, matrixRows(res.Records))
	if err != nil {
		zap.L().Error("emergency export: matrix", zap.Error(err))
	} else {
		files.Matrix = path
	}

	if files.Report, err = e.writeReport(e.filename("EMERGENCY_run_report", "json"), report); err != nil {
		zap.L().Error("emergency export: report", zap.Error(err))
	}

	zap.L().Warn("emergency export written",
		zap.Int("records", len(res.Records)),
		zap.String("matrix", files.Matrix))
	return files
}

func (e *Exporter) WriteMatrixCSV(records []model.MatrixRecord) (string, error) {
	return e.writeCSV(e.filename("voting_matrix", "csv"), matrixColumns, matrixRows(records))
}

func (e *Exporter) WriteDelegateSummaryCSV(summaries []model.DelegateSummary) (string, error) {
	return e.writeCSV(e.filename("delegate_summary", "csv"), delegateColumns, delegateRows(summaries))
}

func (e *Exporter) WriteProposalAnalysisCSV(summaries []model.ProposalSummary) (string, error) {
	return e.writeCSV(e.filename("proposal_analysis", "csv"), proposalColumns, proposalRows(summaries))
}

// WriteWorkbook writes a three-sheet XLSX workbook: the full matrix plus
// both summaries.
func (e *Exporter) WriteWorkbook(res matrix.Result) (string, error) {
	f := xlsx.NewFile()

	if err := addSheet(f, "Voting Matrix", matrixColumns, matrixRows(res.Records)); err != nil {
		return "", err
	}
	if err := addSheet(f, "Delegates", delegateColumns, delegateRows(res.DelegateSummaries)); err != nil {
		return "", err
	}
	if err := addSheet(f, "Proposals", proposalColumns, proposalRows(res.ProposalSummaries)); err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, e.filename("voting_matrix", "xlsx"))
	if err := f.Save(path); err != nil {
		return "", eris.Wrap(err, "export: save workbook")
	}
	return path, nil
}

// WriteRunReport writes the JSON run report.
func (e *Exporter) WriteRunReport(report model.RunReport) (string, error) {
	return e.writeReport(e.filename("run_report", "json"), report)
}

func (e *Exporter) writeReport(name string, report model.RunReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "export: marshal report")
	}
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrap(err, "export: write report")
	}
	return path, nil
}

func (e *Exporter) writeCSV(name string, columns []string, rows [][]string) (string, error) {
	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "export: create %s", name)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(columns); err != nil {
		return "", eris.Wrapf(err, "export: write header %s", name)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", eris.Wrapf(err, "export: write row %s", name)
		}
	}
	if err := w.Error(); err != nil {
		return "", eris.Wrapf(err, "export: flush %s", name)
	}
	return path, nil
}

func (e *Exporter) filename(kind, ext string) string {
	ts := e.now().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s.%s", e.slug, kind, ts, ext)
}

func addSheet(f *xlsx.File, name string, columns []string, rows [][]string) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", name)
	}

	header := sheet.AddRow()
	for _, col := range columns {
		header.AddCell().Value = col
	}
	for _, row := range rows {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().Value = cell
		}
	}
	return nil
}

func matrixRows(records []model.MatrixRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.DelegateAddress,
			rec.DelegateName,
			rec.DelegateENS,
			strconv.FormatFloat(rec.DelegateVotes, 'f', -1, 64),
			strconv.Itoa(rec.DelegatorsCount),
			strconv.FormatBool(rec.HasStatement),
			strconv.FormatBool(rec.SeekingDelegation),
			rec.ProposalID,
			rec.OnchainID,
			rec.ProposalTitle,
			string(rec.ProposalStatus),
			rec.StartTimestamp,
			rec.EndTimestamp,
			string(rec.Vote),
			rec.VotingAmount,
			rec.RawType,
			rec.Reason,
			rec.VoteTime,
			formatBlockNumber(rec.BlockNumber),
			rec.TxHash,
			strconv.FormatBool(rec.Participated),
		})
	}
	return rows
}

func delegateRows(summaries []model.DelegateSummary) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, ds := range summaries {
		rows = append(rows, []string{
			ds.Address,
			ds.Name,
			ds.ENS,
			strconv.Itoa(ds.VotesCast),
			strconv.Itoa(ds.TotalProposals),
			strconv.FormatFloat(ds.ParticipationRate, 'f', 2, 64),
			strconv.Itoa(ds.For),
			strconv.Itoa(ds.Against),
			strconv.Itoa(ds.Abstain),
			strconv.Itoa(ds.Voted),
			strconv.Itoa(ds.Unknown),
			strconv.FormatFloat(ds.VotingPower, 'f', -1, 64),
			strconv.Itoa(ds.DelegatorsCount),
			strconv.FormatBool(ds.HasStatement),
			strconv.FormatBool(ds.SeekingDelegation),
		})
	}
	return rows
}

func proposalRows(summaries []model.ProposalSummary) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, ps := range summaries {
		rows = append(rows, []string{
			ps.ProposalID,
			ps.Title,
			string(ps.Status),
			strconv.Itoa(ps.UniqueVoters),
			strconv.Itoa(ps.EligibleDelegates),
			strconv.FormatFloat(ps.ParticipationRate, 'f', 2, 64),
			strconv.Itoa(ps.For),
			strconv.Itoa(ps.Against),
			strconv.Itoa(ps.Abstain),
			strconv.Itoa(ps.Voted),
			strconv.Itoa(ps.Unknown),
			ps.StartTimestamp,
			ps.EndTimestamp,
		})
	}
	return rows
}

func formatBlockNumber(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
