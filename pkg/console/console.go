package console

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/nixhound/nixhound/pkg/report"
)

// Styles for the different diagnostic severities and rendering parts
var (
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF5555"))

	warningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))

	noticeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	attrHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			Foreground(lipgloss.Color("#BD93F9"))

	filePathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#BD93F9"))

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	excerptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2"))

	docLinkStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#50FA7B"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#50FA7B"))

	verboseStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#6272A4"))
)

// isTTY checks if stdout is a terminal
func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// applyStyle conditionally applies styling based on TTY status
func applyStyle(style lipgloss.Style, text string) string {
	if isTTY() {
		return style.Render(text)
	}
	return text
}

// severityStyle maps a severity to its display style
func severityStyle(sev report.Severity) lipgloss.Style {
	switch sev {
	case report.SeverityError:
		return errorStyle
	case report.SeverityWarning:
		return warningStyle
	default:
		return noticeStyle
	}
}

// ToRelativePath converts an absolute path to a relative path from the
// current working directory, falling back to the input on any failure.
func ToRelativePath(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}

	wd, err := os.Getwd()
	if err != nil {
		return path
	}

	relPath, err := filepath.Rel(wd, path)
	if err != nil {
		return path
	}

	return relPath
}

// FormatAttrHeader formats the per-attribute section header.
func FormatAttrHeader(attr string) string {
	return applyStyle(attrHeaderStyle, "When evaluating attribute ‘"+attr+"’:")
}

// FormatDiagnostic renders one diagnostic without its source excerpts
// or documentation link: the colored "severity: name" line followed by
// the message.
func FormatDiagnostic(d *report.Diagnostic) string {
	var output strings.Builder

	style := severityStyle(d.Severity)
	output.WriteString(applyStyle(style, string(d.Severity)+": "+d.Name))
	output.WriteString("\n")
	output.WriteString(d.Message)
	output.WriteString("\n")

	return output.String()
}

// FormatDocLink renders a diagnostic's documentation URL, or the empty
// string when the diagnostic carries none.
func FormatDocLink(d *report.Diagnostic) string {
	url := d.DocURL()
	if url == "" {
		return ""
	}
	return applyStyle(docLinkStyle, "See: "+url) + "\n"
}

// FormatSourceExcerpt renders the source line a location points at with
// a caret under the column (or under the start of the line when the
// column is unknown). A missing file or out-of-range line is an error:
// it means location tracking upstream is broken and must not be hidden.
func FormatSourceExcerpt(loc report.SourceLocation) (string, error) {
	data, err := os.ReadFile(loc.File)
	if err != nil {
		return "", fmt.Errorf("reading source for location %s: %w", loc, err)
	}

	lines := strings.Split(string(data), "\n")
	if loc.Line < 1 || loc.Line > len(lines) {
		return "", fmt.Errorf("location %s: line out of range (file has %d lines)", loc, len(lines))
	}
	line := lines[loc.Line-1]

	rel := loc
	rel.File = ToRelativePath(loc.File)

	var output strings.Builder
	output.WriteString(applyStyle(filePathStyle, rel.String()))
	output.WriteString("\n")

	lineNumStr := fmt.Sprintf("%d", loc.Line)
	output.WriteString(applyStyle(lineNumberStyle, lineNumStr))
	output.WriteString(" | ")
	output.WriteString(applyStyle(excerptStyle, line))
	output.WriteString("\n")

	caretCol := 1
	if loc.Column > 0 {
		caretCol = loc.Column
	}
	padding := strings.Repeat(" ", len(lineNumStr)+3+caretCol-1)
	output.WriteString(padding)
	output.WriteString(applyStyle(errorStyle, "^"))
	output.WriteString("\n")

	return output.String(), nil
}

// FormatSuccessMessage formats a success message with styling
func FormatSuccessMessage(message string) string {
	return applyStyle(successStyle, "✓ ") + message
}

// FormatInfoMessage formats an informational message
func FormatInfoMessage(message string) string {
	return applyStyle(noticeStyle, "ℹ ") + message
}

// FormatWarningMessage formats a warning message
func FormatWarningMessage(message string) string {
	return applyStyle(warningStyle, "⚠ ") + message
}

// FormatErrorMessage formats a simple error message (for stderr output)
func FormatErrorMessage(message string) string {
	return applyStyle(errorStyle, "✗ ") + message
}

// FormatVerboseMessage formats verbose debugging output
func FormatVerboseMessage(message string) string {
	return applyStyle(verboseStyle, "🔍 ") + message
}

// FormatCommandMessage formats a command execution message
func FormatCommandMessage(command string) string {
	commandStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#BD93F9"))

	return applyStyle(commandStyle, "⚡ ") + command
}

// FormatListHeader formats a section header for lists
func FormatListHeader(header string) string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Underline(true).
		Foreground(lipgloss.Color("#50FA7B"))

	return applyStyle(headerStyle, header)
}

// FormatListItem formats an item in a list
func FormatListItem(item string) string {
	return applyStyle(excerptStyle, "  • "+item)
}
