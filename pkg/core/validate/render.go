package validate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"fincache/pkg/models"
)

func (r Report) status() string {
	if r.Valid {
		return "VALID"
	}
	return "INVALID"
}

func (r Report) equationSummary() string {
	eq := r.Equation
	if eq == nil {
		return "not checked"
	}
	state := "verified"
	if !eq.Holds {
		state = "mismatch"
	}
	parts := []string{
		"assets " + format(eq.Assets),
		"liabilities " + format(eq.Liabilities),
		"equity " + format(eq.Equity),
	}
	if eq.Minority != 0 {
		parts = append(parts, "noncontrolling interest "+format(eq.Minority))
	}
	if eq.Redeemable != 0 {
		parts = append(parts, "redeemable noncontrolling interest "+format(eq.Redeemable))
	}
	parts = append(parts, "difference "+format(eq.Difference))
	return fmt.Sprintf("%s (%s)", state, strings.Join(parts, ", "))
}

// String renders the report as plain text.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Completeness: %s\n", r.status())

	counts := make([]string, 0, len(models.StatementKinds))
	for _, kind := range models.StatementKinds {
		counts = append(counts, fmt.Sprintf("%s %d", kind.Title(), r.Stats.LineItems[kind]))
	}
	fmt.Fprintf(&b, "Line items: %s\n", strings.Join(counts, ", "))
	fmt.Fprintf(&b, "Balance sheet equation: %s\n", r.equationSummary())
	if r.Stats.LiabilitiesReconstructed {
		b.WriteString("Total liabilities: reconstructed from components\n")
	}

	for _, section := range []struct {
		title string
		lines []string
	}{{"Errors", r.Errors}, {"Warnings", r.Warnings}} {
		if len(section.lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", section.title)
		for _, l := range section.lines {
			fmt.Fprintf(&b, "  - %s\n", l)
		}
	}
	return b.String()
}

// Markdown renders the report as a markdown document.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Completeness Report\n\n")
	fmt.Fprintf(&b, "**Status:** %s\n\n", r.status())

	b.WriteString("| Statement | Line items |\n")
	b.WriteString("| --- | ---: |\n")
	for _, kind := range models.StatementKinds {
		fmt.Fprintf(&b, "| %s | %d |\n", kind.Title(), r.Stats.LineItems[kind])
	}

	fmt.Fprintf(&b, "\n**Balance sheet equation:** %s\n", r.equationSummary())
	if r.Stats.LiabilitiesReconstructed {
		b.WriteString("\nTotal liabilities were reconstructed from components.\n")
	}

	writeList(&b, "Errors", r.Errors)
	writeList(&b, "Warnings", r.Warnings)
	return b.String()
}

func writeList(b *strings.Builder, title string, lines []string) {
	fmt.Fprintf(b, "\n## %s\n\n", title)
	if len(lines) == 0 {
		b.WriteString("None.\n")
		return
	}
	for _, l := range lines {
		fmt.Fprintf(b, "- %s\n", l)
	}
}

// HTML renders the markdown report to HTML.
func (r Report) HTML() (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert([]byte(r.Markdown()), &buf); err != nil {
		return "", eris.Wrap(err, "render completeness report")
	}
	return buf.String(), nil
}
