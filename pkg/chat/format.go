package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

const cachedAtLayout = "2006-01-02 15:04:05"

// FormatResult renders an engine result as chat text. params are shown in
// declaration order.
func FormatResult(def *models.QueryDefinition, params map[string]string, result *models.QueryResult) string {
	if !result.Success {
		return FormatError(result.Error, result.CorrelationID)
	}

	var b strings.Builder
	b.WriteString(header(def, params))

	if len(result.Data) == 0 {
		b.WriteString("\n\nNo results")
	} else {
		b.WriteString("\n\n")
		b.WriteString(FormatTable(result.Data, result.Columns))
	}

	if result.Metadata.FromCache && result.Metadata.CachedAt != nil {
		b.WriteString("\n\n[cached: ")
		b.WriteString(result.Metadata.CachedAt.Format(cachedAtLayout))
		b.WriteString("]")
	}
	return b.String()
}

// FormatError renders a failure with its correlation ID so operators can
// find the matching log lines.
func FormatError(message, correlationID string) string {
	if correlationID == "" {
		return "Error: " + message
	}
	return "Error: " + message + "\nCorrelation ID: " + correlationID
}

func header(def *models.QueryDefinition, params map[string]string) string {
	var shown []string
	for _, name := range def.ParameterNames() {
		if v, ok := params[name]; ok {
			shown = append(shown, name+"=`"+v+"`")
		}
	}

	switch len(shown) {
	case 0:
		return "**" + def.Name + "**:"
	case 1:
		_, value, _ := strings.Cut(shown[0], "=")
		return "**" + def.Name + "** for " + value + ":"
	default:
		return "**" + def.Name + "** for " + strings.Join(shown, ", ") + ":"
	}
}

// FormatTable renders rows as a fenced ASCII table. Column order follows
// columns when given, else the first row's keys sorted.
func FormatTable(rows []models.Row, columns []string) string {
	if len(rows) == 0 {
		return "No results"
	}
	if len(columns) == 0 {
		for name := range rows[0] {
			columns = append(columns, name)
		}
		sort.Strings(columns)
	}

	widths := make([]int, len(columns))
	cells := make([][]string, len(rows))
	for i, col := range columns {
		widths[i] = len(col)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			s := cell(row[col])
			cells[r][i] = s
			widths[i] = max(widths[i], len(s))
		}
	}

	var sep strings.Builder
	sep.WriteString("+")
	for _, w := range widths {
		sep.WriteString(strings.Repeat("-", w+2))
		sep.WriteString("+")
	}

	line := func(values []string) string {
		var b strings.Builder
		b.WriteString("|")
		for i, v := range values {
			b.WriteString(" ")
			b.WriteString(v)
			b.WriteString(strings.Repeat(" ", widths[i]-len(v)))
			b.WriteString(" |")
		}
		return b.String()
	}

	lines := []string{sep.String(), line(columns), sep.String()}
	for _, values := range cells {
		lines = append(lines, line(values))
	}
	lines = append(lines, sep.String())

	return "```\n" + strings.Join(lines, "\n") + "\n```"
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// countOf formats n with a pluralized noun, e.g. "1 entry" or "3 entries".
func countOf(n int, noun string) string {
	if n != 1 {
		noun = inflection.Plural(noun)
	}
	return fmt.Sprintf("%d %s", n, noun)
}
