package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/daoscope/govmatrix/internal/matrix"
	"github.com/daoscope/govmatrix/internal/model"
)

func newTestExporter(t *testing.T) *Exporter {
	t.Helper()
	e := New(t.TempDir(), "testdao")
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) }
	return e
}

func testResult() matrix.Result {
	return matrix.Build(
		[]model.Delegate{
			{ID: "d1", Address: "0xAAA", Name: "alice", VotesCount: 1000},
			{ID: "d2", Address: "0xBBB", ENS: "bob.eth", VotesCount: 50},
		},
		[]model.Proposal{
			{ID: "p1", Title: "Fund grants", Status: model.StatusExecuted},
		},
		map[string][]model.Vote{
			"p1": {{ID: "v1", VoterAddress: "0xaaa", Type: "for", Amount: "500", TxHash: "0x01"}},
		},
	)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteMatrixCSV(t *testing.T) {
	e := newTestExporter(t)

	path, err := e.WriteMatrixCSV(testResult().Records)
	require.NoError(t, err)
	assert.Equal(t, "testdao_voting_matrix_20260301_123000.csv", filepath.Base(path))

	rows := readCSV(t, path)
	require.Len(t, rows, 3) // header + 2 delegates x 1 proposal
	assert.Equal(t, matrixColumns, rows[0])

	byAddr := map[string][]string{}
	for _, row := range rows[1:] {
		byAddr[row[0]] = row
	}
	require.Contains(t, byAddr, "0xAAA")
	assert.Equal(t, "For", byAddr["0xAAA"][13])
	assert.Equal(t, "500", byAddr["0xAAA"][14])
	assert.Equal(t, "true", byAddr["0xAAA"][20])

	require.Contains(t, byAddr, "0xBBB")
	assert.Equal(t, "Did Not Vote", byAddr["0xBBB"][13])
	assert.Equal(t, "0", byAddr["0xBBB"][14])
	assert.Equal(t, "false", byAddr["0xBBB"][20])
}

func TestWriteSummaryCSVs(t *testing.T) {
	e := newTestExporter(t)
	res := testResult()

	dPath, err := e.WriteDelegateSummaryCSV(res.DelegateSummaries)
	require.NoError(t, err)
	dRows := readCSV(t, dPath)
	require.Len(t, dRows, 3)
	assert.Equal(t, delegateColumns, dRows[0])
	// Power-descending order: alice (1000) first.
	assert.Equal(t, "0xAAA", dRows[1][0])
	assert.Equal(t, "100.00", dRows[1][5])

	pPath, err := e.WriteProposalAnalysisCSV(res.ProposalSummaries)
	require.NoError(t, err)
	pRows := readCSV(t, pPath)
	require.Len(t, pRows, 2)
	assert.Equal(t, proposalColumns, pRows[0])
	assert.Equal(t, "p1", pRows[1][0])
	assert.Equal(t, "50.00", pRows[1][5])
}

func TestWriteWorkbook(t *testing.T) {
	e := newTestExporter(t)

	path, err := e.WriteWorkbook(testResult())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".xlsx"))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "Voting Matrix", f.Sheets[0].Name)
	assert.Equal(t, "Delegates", f.Sheets[1].Name)
	assert.Equal(t, "Proposals", f.Sheets[2].Name)

	// Header row plus one row per matrix record.
	require.Len(t, f.Sheets[0].Rows, 3)
	assert.Equal(t, "delegate_address", f.Sheets[0].Rows[0].Cells[0].Value)
}

func TestWriteRunReport(t *testing.T) {
	e := newTestExporter(t)

	report := model.RunReport{
		RunID:          "run-1",
		OrgSlug:        "testdao",
		Delegates:      2,
		Proposals:      1,
		VotesExtracted: 1,
	}
	path, err := e.WriteRunReport(report)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got model.RunReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, report.RunID, got.RunID)
	assert.Equal(t, 2, got.Delegates)
	assert.False(t, got.Emergency)
}

func TestExportAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")
	e := New(dir, "testdao")

	files, err := e.ExportAll(testResult(), model.RunReport{RunID: "run-1"})
	require.NoError(t, err)

	for _, path := range []string{files.Matrix, files.DelegateSummary, files.ProposalAnalysis, files.Workbook, files.Report} {
		require.NotEmpty(t, path)
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}
}

func TestExportEmergency(t *testing.T) {
	e := newTestExporter(t)

	files := e.ExportEmergency(testResult(), model.RunReport{RunID: "run-1"})
	require.NotEmpty(t, files.Matrix)
	require.NotEmpty(t, files.Report)
	assert.Contains(t, filepath.Base(files.Matrix), "EMERGENCY_voting_matrix")

	data, err := os.ReadFile(files.Report)
	require.NoError(t, err)
	var got model.RunReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Emergency)
}
