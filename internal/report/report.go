// Package report renders plan/result summaries for the CLI, either as a
// fixed-width table or as JSON: json.NewEncoder with SetIndent("", "  ")
// for --json, a manually formatted header + strings.Repeat("-", N)
// separator for the table form.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/curtin-go/storage/internal/graph"
)

// StepReport is one executed (or planned) action's outcome, the thing
// both table and JSON renderers format.
type StepReport struct {
	EntryID    string `json:"entry_id"`
	Type       string `json:"type"`
	Verb       string `json:"verb,omitempty"`
	DevicePath string `json:"device_path,omitempty"`
	Size       string `json:"size,omitempty"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

// FromStep builds a pending StepReport from a planned step, before
// execution fills in DevicePath/Status. Size is rendered human-readable
// (e.g. "8.6 GB") when the entry declares one.
func FromStep(step graph.Step) StepReport {
	verb := "execute"
	if step.VerifyOnly {
		verb = "verify"
	}
	rep := StepReport{EntryID: step.Entry.ID, Type: string(step.Entry.Type), Verb: verb, Status: "pending"}
	if step.Entry.SizeField != nil {
		rep.Size = humanize.Bytes(uint64(*step.Entry.SizeField))
	}
	return rep
}

// WriteJSON writes reports as an indented JSON array.
func WriteJSON(w io.Writer, reports []StepReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

// WriteTable writes reports as a fixed-width table.
func WriteTable(w io.Writer, reports []StepReport) {
	fmt.Fprintf(w, "%-20s %-16s %-8s %-20s %s\n", "ID", "TYPE", "VERB", "DEVICE", "STATUS")
	fmt.Fprintln(w, strings.Repeat("-", 85))
	for _, r := range reports {
		device := r.DevicePath
		if device == "" {
			device = "-"
		}
		status := r.Status
		if r.Detail != "" {
			status = fmt.Sprintf("%s (%s)", status, r.Detail)
		}
		fmt.Fprintf(w, "%-20s %-16s %-8s %-20s %s\n", r.EntryID, r.Type, r.Verb, device, status)
	}
}
