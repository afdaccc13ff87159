package automation

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/browser"
)

// SampleQuestions are answerable from the default corpus.
var SampleQuestions = []string{
	"What is the part description for part number G4204-68741?",
	"What are the pump head assembly parts?",
	"What are the high level steps for Replacing the Heat Exchanger?",
}

var (
	headingColour = color.New(color.FgHiGreen, color.Bold)
	failColour    = color.New(color.FgHiRed, color.Bold)
	labelColour   = color.New(color.FgHiCyan)

	statusColours = map[Status]*color.Color{
		StatusSucceeded: color.New(color.FgGreen),
		StatusWarned:    color.New(color.FgYellow),
		StatusFailed:    color.New(color.FgRed),
		StatusSkipped:   color.New(color.Faint),
	}
)

// PrintReport writes one line per step with its status and duration.
func PrintReport(w io.Writer, report *Report) {
	if report == nil {
		return
	}
	for _, res := range report.Results {
		status := statusColours[res.Status].Sprintf("%-9s", res.Status)
		line := fmt.Sprintf("  %-18s %s", res.Step, status)
		if res.Status != StatusSkipped {
			line += fmt.Sprintf(" %8s", res.Duration.Round(10*time.Millisecond))
		}
		if res.Err != nil {
			line += "  " + res.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
}

// PrintSummary writes the outcome of a setup run.
func PrintSummary(w io.Writer, result *Result, runErr error) {
	fmt.Fprintln(w)
	if result != nil {
		PrintReport(w, result.Report)
		fmt.Fprintln(w)
	}
	if runErr != nil {
		failColour.Fprintln(w, "Setup failed, check the errors above")
		return
	}

	headingColour.Fprintln(w, "Setup complete")
	if out := result.Outputs; out != nil {
		labelColour.Fprint(w, "Q Business console: ")
		fmt.Fprintln(w, out.ApplicationUrl)
		labelColour.Fprint(w, "Web experience:     ")
		fmt.Fprintln(w, out.WebExperienceUrl)
	}
	if v := result.Validation; v != nil {
		fmt.Fprintf(w, "Loaded %d documents into %d chunks, search service %s\n", v.Documents, v.Chunks, v.Status)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Try these sample questions:")
	for _, q := range SampleQuestions {
		fmt.Fprintf(w, "  - %s\n", q)
	}
}

// OpenWebExperience opens the web experience in the default browser.
func OpenWebExperience(result *Result) error {
	if result == nil || result.Outputs == nil || result.Outputs.WebExperienceUrl == "" {
		return fmt.Errorf("no web experience url to open")
	}
	return browser.OpenURL(result.Outputs.WebExperienceUrl)
}
