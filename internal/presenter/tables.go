package presenter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func RenderResults(w io.Writer, results []models.ResultSummary) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results yet")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTARGET\tSCRIPT\tSTATUS\tFINDINGS\tSTARTED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			emptyIf(r.Target, "-"),
			emptyIf(r.Script, "-"),
			emptyIf(r.Status, "-"),
			len(r.Findings),
			formatTime(r),
		)
	}
	_ = tw.Flush()
}

func formatTime(r models.ResultSummary) string {
	if r.StartedAt.IsZero() {
		return "-"
	}
	return r.StartedAt.Local().Format(timeLayout)
}

// RenderResult prints one result with its findings, most severe first.
func RenderResult(w io.Writer, r models.ResultSummary) {
	fmt.Fprintf(w, "Result %s\n", r.ID)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Target:   %s\n", emptyIf(r.Target, "-"))
	fmt.Fprintf(w, "Script:   %s\n", emptyIf(r.Script, "-"))
	fmt.Fprintf(w, "Status:   %s\n", emptyIf(r.Status, "-"))
	fmt.Fprintf(w, "Started:  %s\n", formatTime(r))
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", r.CompletedAt.Local().Format(timeLayout))
	}

	counts := models.CountFindingsBySeverity(r.Findings)
	sevs := make([]string, 0, len(counts))
	for s := range counts {
		sevs = append(sevs, s)
	}
	sort.Slice(sevs, func(i, j int) bool { return models.SeverityRank(sevs[i]) > models.SeverityRank(sevs[j]) })
	parts := make([]string, 0, len(sevs))
	for _, s := range sevs {
		parts = append(parts, fmt.Sprintf("%s: %d", s, counts[s]))
	}
	fmt.Fprintf(w, "Findings: %d", len(r.Findings))
	if len(parts) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)

	if len(r.Findings) == 0 {
		return
	}
	findings := append([]models.Finding(nil), r.Findings...)
	sort.SliceStable(findings, func(i, j int) bool {
		return models.SeverityRank(findings[i].Severity) > models.SeverityRank(findings[j].Severity)
	})

	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "SEVERITY\tTITLE\tURL")
	for _, f := range findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", emptyIf(f.Severity, "info"), emptyIf(f.Title, "-"), emptyIf(f.URL, "-"))
	}
	_ = tw.Flush()
}

// RenderDashboard prints the configured-key count, scan count, total
// findings and the most recent results.
func RenderDashboard(w io.Writer, secrets models.SecretList, page models.ResultPage, recent int) {
	fmt.Fprintln(w, "Dashboard")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "API keys configured: %d\n", secrets.TotalConfigured)
	fmt.Fprintf(w, "Scans:               %d\n", page.Total)
	fmt.Fprintf(w, "Findings:            %d\n", page.TotalFindings())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recent results:")
	RenderResults(w, page.Recent(recent))
}

func RenderScripts(w io.Writer, scripts []models.Script) {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tTOOLS\tDESCRIPTION")
	for _, s := range scripts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, emptyIf(s.Category, "-"), emptyIf(strings.Join(s.Tools, ","), "-"), s.Description)
	}
	_ = tw.Flush()
}

func RenderTools(w io.Writer, tools []models.Tool) {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tINSTALL\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, emptyIf(t.Category, "-"), emptyIf(t.Install, "-"), t.Description)
	}
	_ = tw.Flush()
}

// RenderSecrets never prints more than the masked value.
func RenderSecrets(w io.Writer, list models.SecretList) {
	tw := newTable(w)
	fmt.Fprintln(tw, "KEY\tNAME\tENV\tCONFIGURED\tVALUE")
	for _, s := range list.Secrets {
		configured := "no"
		if s.Configured {
			configured = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Key, emptyIf(s.DisplayName, "-"), emptyIf(s.EnvVar, "-"), configured, emptyIf(s.MaskedValue, "-"))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d of %d configured\n", list.TotalConfigured, len(list.Secrets))
}
