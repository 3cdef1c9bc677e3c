package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/queue"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printShows(w io.Writer, shows []models.Show) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tDATE\tCITY\tVENUE\tTITLE\tFEE\tSTATUS\tVER")
	for _, sh := range shows {
		fee := formatFee(sh.Fee)
		if sh.Currency != "" {
			fee += " " + sh.Currency
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			sh.ID, sh.Date, sh.City, dash(sh.Venue), dash(sh.Title), fee, dash(string(sh.Status)), sh.Version)
	}
	return tw.Flush()
}

func printOperations(w io.Writer, ops []models.Operation) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTYPE\tRESOURCE\tSTATUS\tRETRIES\tQUEUED AT\tLAST ERROR")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%d\t%s\t%s\n",
			op.ID, op.Type, op.ResourceType, op.ResourceID, op.Status, op.RetryCount,
			formatMillis(op.Timestamp), dash(op.LastError))
	}
	return tw.Flush()
}

func printStats(w io.Writer, mode Mode, s queue.Stats, st models.ConnectivityState, shows int) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "mode:\t%s\n", mode)
	fmt.Fprintf(tw, "online:\t%t\n", s.IsOnline)
	fmt.Fprintf(tw, "shows:\t%d\n", shows)
	fmt.Fprintf(tw, "queued:\t%d\n", s.QueuedCount)
	fmt.Fprintf(tw, "failed:\t%d\n", s.FailedCount)
	fmt.Fprintf(tw, "last online:\t%s\n", formatMillis(st.LastOnlineTime))
	fmt.Fprintf(tw, "last offline:\t%s\n", formatMillis(st.LastOfflineTime))
	return tw.Flush()
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}

func formatFee(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
