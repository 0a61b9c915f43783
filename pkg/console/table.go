package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#BD93F9"))

	tableCellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2"))

	tableBorderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6272A4"))
)

// RenderTable renders headers and rows as an aligned text table.
func RenderTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, header := range headers {
		colWidths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(colWidths) && len(cell) > colWidths[i] {
				colWidths[i] = len(cell)
			}
		}
	}

	var output strings.Builder
	output.WriteString(renderTableRow(headers, colWidths, tableHeaderStyle))
	output.WriteString("\n")

	separators := make([]string, len(headers))
	for i, width := range colWidths {
		separators[i] = strings.Repeat("-", width)
	}
	output.WriteString(renderTableRow(separators, colWidths, tableBorderStyle))
	output.WriteString("\n")

	for _, row := range rows {
		output.WriteString(renderTableRow(row, colWidths, tableCellStyle))
		output.WriteString("\n")
	}

	return output.String()
}

func renderTableRow(cells []string, colWidths []int, style lipgloss.Style) string {
	var row strings.Builder
	for i, cell := range cells {
		if i >= len(colWidths) {
			break
		}
		row.WriteString(applyStyle(style, fmt.Sprintf("%-*s", colWidths[i], cell)))
		if i < len(cells)-1 {
			row.WriteString(applyStyle(tableBorderStyle, " | "))
		}
	}
	return row.String()
}
