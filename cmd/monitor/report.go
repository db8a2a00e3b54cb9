package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"rt-trace-monitor/internal/models"
)

// writeStats prints one row per task. Extrema read "-" until a job completed.
func writeStats(w io.Writer, stats []models.TaskStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tMET\tMISSED\tBEST_MS\tWORST_MS")
	for _, st := range stats {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", st.TaskID, st.Met, st.Missed, optMS(st.BestMS), optMS(st.WorstMS))
	}
	return tw.Flush()
}

func optMS(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
