package catalog

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Render prints the report as a table, one row per source, followed by the
// run summary.
func (r *Report) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Source", "Protocol", "Status", "Records", "Deleted", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, e := range r.Entries {
		records, deleted := "-", "-"
		if e.Status == StatusSucceeded {
			records = strconv.Itoa(e.Records)
			deleted = strconv.Itoa(e.Deleted)
		}
		table.Append([]string{
			e.Source,
			e.Protocol,
			string(e.Status),
			records,
			deleted,
			e.Detail(),
		})
	}
	table.Render()

	s := r.Summary()
	fmt.Fprintf(w, "run %s: %d sources, %d succeeded, %d failed, %d skipped, %d records harvested\n",
		r.RunID, s.Sources, s.Succeeded, s.Failed, s.Skipped, s.Records)
}
