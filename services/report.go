package services

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/markkurossi/tabulate"
)

// Print renders the phase timings and a summary of the round.
func (r *RoundReport) Print(w io.Writer) {
	tab := tabulate.New(tabulate.UnicodeLight)
	tab.Header("Phase").SetAlign(tabulate.ML)
	tab.Header("Time").SetAlign(tabulate.MR)
	tab.Header("%").SetAlign(tabulate.MR)

	var total time.Duration
	for _, p := range r.Phases {
		total += p.Duration
	}
	for _, p := range r.Phases {
		row := tab.Row()
		row.Column(p.Name)
		row.Column(p.Duration.String())
		row.Column(fmt.Sprintf("%.2f%%", float64(p.Duration)/float64(max(total, 1))*100))
	}
	row := tab.Row()
	row.Column("Total").SetFormat(tabulate.FmtBold)
	row.Column(total.String()).SetFormat(tabulate.FmtBold)
	row.Column("").SetFormat(tabulate.FmtBold)
	tab.Print(w)

	sum := tabulate.New(tabulate.UnicodeLight)
	sum.Header("Round").SetAlign(tabulate.ML)
	sum.Header(r.Handle).SetAlign(tabulate.ML)
	for _, kv := range [][2]string{
		{"Variant", string(r.Variant)},
		{"Participants", fmt.Sprintf("%d (threshold %d)", len(r.Participants), r.Threshold)},
		{"Contributors", fmt.Sprintf("%d", len(r.Contributors))},
		{"Dropped", strings.Join(r.Dropped, ", ")},
		{"Max error", fmt.Sprintf("%.3g", r.MaxError)},
	} {
		row := sum.Row()
		row.Column(kv[0])
		row.Column(kv[1])
	}
	sum.Print(w)
}
