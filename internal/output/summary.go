package output

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/regscan/internal/scanner"
)

const (
	summaryBoxWidth  = 64
	durationRounding = time.Millisecond
)

//nolint:gochecknoglobals // Global printer is idiomatic for x/text/message usage.
var printer = message.NewPrinter(language.English)

// RenderSummary returns the styled summary box for one device scan.
func RenderSummary(r *scanner.Result) string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39"))
	labelStyle := lipgloss.NewStyle().Bold(true)
	boxStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(summaryBoxWidth)

	line := func(label, value string) string {
		return labelStyle.Render(label) + " " + value + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("SCAN SUMMARY"))
	b.WriteString("\n")
	b.WriteString(line("Session:", r.SessionID))
	b.WriteString(line("Registers:", printer.Sprintf("%d scanned, %d accessible (%.1f%%)",
		r.TotalRegisters, r.AccessibleRegisters, accessiblePercent(r))))
	b.WriteString(line("Batches:", printer.Sprintf("%d total, %d failed, %d fallback reads",
		r.Stats.TotalBatches, r.Stats.FailedBatches, r.Stats.FallbackReads)))
	b.WriteString(line("Efficiency:", printer.Sprintf("%.1f%% (avg batch %.1f)",
		r.Stats.BatchEfficiency, r.Stats.AverageBatchSize)))
	b.WriteString(line("Batch size:", printer.Sprintf("adaptive %d, recommended %d, max %d",
		r.AdaptiveBatchSize, r.RecommendedBatchSize, r.MaxBatchSize)))
	b.WriteString(line("Duration:", r.Duration.Round(durationRounding).String()))
	if r.Err != nil {
		warn := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
		b.WriteString(warn.Render("Error: ") + r.Err.Error() + "\n")
	}

	return boxStyle.Render(strings.TrimSuffix(b.String(), "\n"))
}

func accessiblePercent(r *scanner.Result) float64 {
	if r.TotalRegisters == 0 {
		return 0
	}
	return float64(r.AccessibleRegisters) / float64(r.TotalRegisters) * 100 //nolint:mnd // percentage
}
