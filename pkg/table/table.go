// Package table renders user specs and harness results as plain text
// tables.
package table

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/models"
	"github.com/olekukonko/tablewriter"
)

const (
	NameWidth  = 32
	DirsWidth  = 40
	ErrorWidth = 60
)

func newWriter(w io.Writer, header []string) *tablewriter.Table {
	if w == nil {
		w = os.Stdout
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

// UserTable lists parsed user specs with passwords redacted.
type UserTable struct {
	table *tablewriter.Table
}

func NewUserTable(w io.Writer) *UserTable {
	return &UserTable{table: newWriter(w, []string{"Name", "Password", "UID", "GID", "Dirs"})}
}

func (ut *UserTable) AddUser(spec *models.UserSpec) {
	password := "none (key only)"
	switch {
	case spec.Encrypted:
		password = "encrypted"
	case spec.HasPassword():
		password = "plain"
	}
	ut.table.Append([]string{
		truncate(spec.Name, NameWidth),
		password,
		optionalID(spec.UID),
		optionalID(spec.GID),
		truncate(strings.Join(spec.Dirs, ","), DirsWidth),
	})
}

func (ut *UserTable) Render() {
	ut.table.Render()
}

// ResultRow is one harness scenario outcome.
type ResultRow struct {
	Name     string
	Passed   bool
	Skipped  bool
	Duration time.Duration
	Err      error
}

type ResultTable struct {
	table  *tablewriter.Table
	passed int
	failed int
}

func NewResultTable(w io.Writer) *ResultTable {
	return &ResultTable{table: newWriter(w, []string{"Scenario", "Result", "Duration", "Error"})}
}

func (rt *ResultTable) AddResult(r ResultRow) {
	status := "PASS"
	switch {
	case r.Skipped:
		status = "SKIP"
	case !r.Passed:
		status = "FAIL"
		rt.failed++
	default:
		rt.passed++
	}
	errText := ""
	if r.Err != nil {
		errText = truncate(strings.ReplaceAll(r.Err.Error(), "\n", " "), ErrorWidth)
	}
	rt.table.Append([]string{
		r.Name,
		status,
		r.Duration.Round(time.Millisecond).String(),
		errText,
	})
}

func (rt *ResultTable) Render() {
	rt.table.SetFooter([]string{"", fmt.Sprintf("%d passed", rt.passed), fmt.Sprintf("%d failed", rt.failed), ""})
	rt.table.Render()
}

func optionalID(id *int) string {
	if id == nil {
		return "auto"
	}
	return strconv.Itoa(*id)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
