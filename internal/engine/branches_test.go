package engine

import (
	"bytes"
	"strings"
	"testing"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	buf := &bytes.Buffer{}
	_, err := f.WriteTo(buf)
	require.NoError(t, err)
	return buf
}

func newBranchService(t *testing.T, svc *ReportService) *BranchService {
	t.Helper()
	return NewBranchService(svc.db, svc.Tenants(), svc.Tables(), nil, nil)
}

func TestReadBranchSheet(t *testing.T) {
	xlsx := workbook(t, [][]interface{}{
		{"Branch Code", "Manager Email", ""},
		{"ALPHA", "a@x.com"},
		{"", ""},
		{"BRAVO", "b@x.com"},
	})
	sheet, err := ReadBranchSheet(xlsx, "branches.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []string{"Branch Code", "Manager Email"}, sheet.Headers)
	assert.Len(t, sheet.Rows, 2)

	csvSheet, err := ReadBranchSheet(strings.NewReader("Code,Region\nN1,North\nS1\n"), "BRANCHES.CSV")
	require.NoError(t, err)
	assert.Equal(t, []string{"Code", "Region"}, csvSheet.Headers)
	assert.Equal(t, [][]string{{"N1", "North"}, {"S1"}}, csvSheet.Rows)

	_, err = ReadBranchSheet(strings.NewReader(""), "empty.csv")
	assert.True(t, apperrors.IsValidation(err))

	_, err = ReadBranchSheet(strings.NewReader("not a zip"), "broken.xlsx")
	assert.True(t, apperrors.IsValidation(err))
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Branch Code", TitleCase("branch_code"))
	assert.Equal(t, "Manager E Mail", TitleCase("manager_e_mail"))
	assert.Equal(t, "Region", TitleCase("region"))
}

func TestBranchImportReplacesTenantRows(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	branches := newBranchService(t, svc)
	client := seedClient(t, db, "Acme Co")

	list, err := branches.Import(bg, client.UUID, &BranchSheet{
		Headers: []string{"Branch Code", "Manager Email"},
		Rows:    [][]string{{"ALPHA", "a@x.com"}, {"BRAVO", ""}},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme_co_branches", list.Table)
	assert.Equal(t, []BranchHeader{{"branch_code", "Branch Code"}, {"manager_email", "Manager Email"}}, list.Headers)
	require.Len(t, list.Rows, 2)
	assert.Equal(t, "ALPHA", list.Rows[0]["branch_code"])
	assert.Nil(t, list.Rows[1]["manager_email"])

	list, err = branches.Import(bg, client.UUID, &BranchSheet{
		Headers: []string{"Branch Code", "Manager Email"},
		Rows:    [][]string{{"CHARLIE", "c@x.com"}},
	})
	require.NoError(t, err)
	require.Len(t, list.Rows, 1)
	assert.Equal(t, "CHARLIE", list.Rows[0]["branch_code"])

	_, err = branches.Import(bg, client.UUID, &BranchSheet{Headers: []string{"Branch Code", "Budget"}})
	assert.True(t, apperrors.IsValidation(err), "an existing table keeps its first layout")
}

func TestBranchListAddDelete(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	branches := newBranchService(t, svc)
	client := seedClient(t, db, "Acme Co")

	empty, err := branches.List(bg, client.UUID)
	require.NoError(t, err)
	assert.Empty(t, empty.Rows)

	_, err = branches.Add(bg, client.UUID, map[string]interface{}{"branch_code": "X"})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = branches.Import(bg, client.UUID, &BranchSheet{Headers: []string{"Branch Code", "Region"}})
	require.NoError(t, err)

	added, err := branches.Add(bg, client.UUID, map[string]interface{}{
		"branch_code": "DELTA", "region": "South", "client_id": "spoofed", "bogus": "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, "DELTA", added["branch_code"])
	assert.Equal(t, client.UUID, added["client_id"])
	assert.NotContains(t, added, "bogus")

	_, err = branches.Add(bg, client.UUID, map[string]interface{}{"bogus": 1})
	assert.True(t, apperrors.IsValidation(err))

	list, err := branches.List(bg, client.UUID)
	require.NoError(t, err)
	assert.Equal(t, []BranchHeader{{"branch_code", "Branch Code"}, {"region", "Region"}}, list.Headers)
	require.Len(t, list.Rows, 1)

	id, ok := list.Rows[0]["id"].(int64)
	require.True(t, ok)
	require.NoError(t, branches.Delete(bg, client.UUID, uint(id)))
	assert.True(t, apperrors.IsNotFound(branches.Delete(bg, client.UUID, uint(id))))
}

func TestBranchExport(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	branches := newBranchService(t, svc)
	client := seedClient(t, db, "Acme Co")

	err := branches.Export(bg, client.UUID, &bytes.Buffer{})
	require.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, "No data found for this client.", err.Error())

	_, err = branches.Import(bg, client.UUID, &BranchSheet{
		Headers: []string{"Branch Code", "Manager Email"},
		Rows:    [][]string{{"ALPHA", "a@x.com"}},
	})
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, branches.Export(bg, client.UUID, buf))

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(BranchExportSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Branch Code", "Manager Email"}, {"ALPHA", "a@x.com"}}, rows)
}
