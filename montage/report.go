package montage

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
)

// WriteDistanceTrack writes the subject x electrode distance matrix as TSV:
// a header row of electrode names, then one row per subject. Masked cells
// are written as "NaN".
func WriteDistanceTrack(w io.Writer, res *TemplateResult) error {
	bw := bufio.NewWriter(w)
	d := res.Diagnostics

	header := []string{"subject"}
	for e := 0; e < res.Template.Len(); e++ {
		header = append(header, res.Template.Name(e))
	}
	fmt.Fprintln(bw, strings.Join(header, "\t"))

	for s, row := range d.Distances {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, subjectName(res.Subjects, s))
		for _, v := range row {
			cells = append(cells, formatDistance(v))
		}
		fmt.Fprintln(bw, strings.Join(cells, "\t"))
	}
	return bw.Flush()
}

func formatDistance(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.4f", v)
}

// WriteReport writes a human-readable summary of a build: per-subject and
// per-electrode statistics, quality warnings and the subject transforms.
func WriteReport(w io.Writer, res *TemplateResult) error {
	bw := bufio.NewWriter(w)
	d := res.Diagnostics

	fmt.Fprintf(bw, "Template: %d electrodes from %d subjects\n", res.Template.Len(), len(res.Subjects))
	fmt.Fprintf(bw, "Global average distance: %.4f\n", d.GlobalAverage)
	fmt.Fprintf(bw, "Electrode spacing (median nearest): %.4f\n", d.Spacing)
	if res.Landmarks != nil {
		lm := res.Landmarks
		fmt.Fprintf(bw, "Landmarks: Fpz (%.2f, %.2f, %.2f)  Oz (%.2f, %.2f, %.2f)",
			lm.Fpz.X, lm.Fpz.Y, lm.Fpz.Z, lm.Oz.X, lm.Oz.Y, lm.Oz.Z)
		if lm.HasCz {
			fmt.Fprintf(bw, "  Cz (%.2f, %.2f, %.2f)", lm.Cz.X, lm.Cz.Y, lm.Cz.Z)
		}
		fmt.Fprintln(bw)
	}

	fmt.Fprintln(bw, "\nSubjects")
	writeStatsTable(bw, d.Subjects, func(i int) string {
		var reasons []string
		for _, wr := range d.Warnings {
			if wr.Subject == i {
				for _, r := range wr.Reasons {
					reasons = append(reasons, string(r))
				}
			}
		}
		return strings.Join(reasons, ",")
	})

	fmt.Fprintln(bw, "\nElectrodes")
	writeStatsTable(bw, d.Electrodes, nil)

	if len(d.Warnings) > 0 {
		fmt.Fprintln(bw, "\nWarnings")
		for _, wr := range d.Warnings {
			fmt.Fprintf(bw, "  %s: average %.4f (%.2fx global), CV %.2f [%s]\n",
				wr.Name, wr.Average, wr.Ratio, wr.CV, joinReasons(wr.Reasons))
		}
	}

	if len(res.Transforms) > 0 {
		fmt.Fprintln(bw, "\nTransforms (subject -> template)")
		for s, m := range res.Transforms {
			fmt.Fprintf(bw, "  %s\n", subjectName(res.Subjects, s))
			for _, row := range m {
				fmt.Fprintf(bw, "    % 10.5f % 10.5f % 10.5f % 10.4f\n", row[0], row[1], row[2], row[3])
			}
		}
	}
	return bw.Flush()
}

func writeStatsTable(w io.Writer, rows []DistanceStats, flags func(i int) string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "name\tn\taverage\tsd\tcv\tmedian\tp95\tmax\t")
	for i, st := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%.3f\t%.4f\t%.4f\t%.4f\t", st.Name, st.Count,
			st.Average, st.StdDev, st.CV, st.Median, st.P95, st.Max)
		if flags != nil {
			if f := flags(i); f != "" {
				fmt.Fprintf(tw, " %s", f)
			}
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
}

func joinReasons(rs []QualityReason) string {
	s := make([]string, len(rs))
	for i, r := range rs {
		s[i] = string(r)
	}
	return strings.Join(s, ",")
}
