package montage

import (
	"math"
	"strconv"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// QualityThresholds control when a subject is flagged as a likely
// acquisition error.
type QualityThresholds struct {
	// DistanceRatio flags subjects whose average distance to the template
	// exceeds this multiple of the global average (default 2.0).
	DistanceRatio float64 `yaml:"distanceRatio" json:"distanceRatio"`

	// MaxCV flags subjects whose coefficient of variation of distances
	// exceeds this value (default 0.80).
	MaxCV float64 `yaml:"maxCV" json:"maxCV"`
}

// DefaultQualityThresholds returns the standard thresholds
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{DistanceRatio: 2.0, MaxCV: 0.80}
}

// QualityReason describes why a subject was flagged.
type QualityReason string

const (
	// ReasonDistance indicates the subject lies far from the template overall
	ReasonDistance QualityReason = "distance"

	// ReasonDispersion indicates the subject's distances vary too much
	// (some electrodes fit, others do not)
	ReasonDispersion QualityReason = "dispersion"
)

// QualityWarning is a non-fatal report on one subject. Flagged subjects are
// still part of the template.
type QualityWarning struct {
	Subject int             `json:"subject"`
	Name    string          `json:"name"`
	Reasons []QualityReason `json:"reasons"`
	Average float64         `json:"average"`
	Ratio   float64         `json:"ratio"`
	CV      float64         `json:"cv"`
}

// DistanceStats summarises a row or column of the distance matrix.
type DistanceStats struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	StdDev  float64 `json:"stdDev"`
	CV      float64 `json:"cv"`
	Median  float64 `json:"median"`
	P95     float64 `json:"p95"`
	Max     float64 `json:"max"`
}

// Diagnostics is the subject x electrode distance table with summaries.
type Diagnostics struct {
	// Distances[s][e] is the distance of subject s's electrode e to the
	// template, NaN where the point was masked out.
	Distances     [][]float64     `json:"-"`
	Subjects      []DistanceStats `json:"subjects"`
	Electrodes    []DistanceStats `json:"electrodes"`
	GlobalAverage float64         `json:"globalAverage"`
	// Spacing is the median nearest-neighbour distance of the template
	// electrodes, the scale against which GlobalAverage reads.
	Spacing  float64          `json:"spacing"`
	Warnings []QualityWarning `json:"warnings,omitempty"`
}

// ComputeDiagnostics measures every registered subject against the template
// and flags subjects that exceed the thresholds.
func ComputeDiagnostics(template PointSet, registered []PointSet, mask [][]bool, subjectNames []string, th QualityThresholds) Diagnostics {
	ne := template.Len()
	d := Diagnostics{Distances: make([][]float64, len(registered))}

	var all []float64
	columns := make([][]float64, ne)
	for s, ps := range registered {
		row := make([]float64, ne)
		var vals []float64
		for e := 0; e < ne; e++ {
			row[e] = math.NaN()
			if e >= ps.Len() || (mask != nil && !mask[s][e]) || IsNull(template.Points[e]) {
				continue
			}
			dist := ps.Points[e].Sub(template.Points[e]).Norm()
			row[e] = dist
			vals = append(vals, dist)
			columns[e] = append(columns[e], dist)
		}
		d.Distances[s] = row
		all = append(all, vals...)
		st := summarizeDistances(vals)
		st.Name = subjectName(subjectNames, s)
		d.Subjects = append(d.Subjects, st)
	}

	for e := 0; e < ne; e++ {
		st := summarizeDistances(columns[e])
		st.Name = template.Name(e)
		d.Electrodes = append(d.Electrodes, st)
	}

	if len(all) > 0 {
		d.GlobalAverage = stat.Mean(all, nil)
	}
	d.Spacing = template.MedianNearestDistance()
	d.Warnings = flagSubjects(d.Subjects, d.GlobalAverage, th)
	return d
}

// flagSubjects applies the distance-ratio and dispersion thresholds
func flagSubjects(subjects []DistanceStats, global float64, th QualityThresholds) []QualityWarning {
	var out []QualityWarning
	for s, st := range subjects {
		if st.Count == 0 {
			continue
		}
		var reasons []QualityReason
		ratio := 0.0
		if global > 0 {
			ratio = st.Average / global
		}
		if th.DistanceRatio > 0 && ratio > th.DistanceRatio {
			reasons = append(reasons, ReasonDistance)
		}
		if th.MaxCV > 0 && st.CV > th.MaxCV {
			reasons = append(reasons, ReasonDispersion)
		}
		if len(reasons) == 0 {
			continue
		}
		out = append(out, QualityWarning{
			Subject: s,
			Name:    st.Name,
			Reasons: reasons,
			Average: st.Average,
			Ratio:   ratio,
			CV:      st.CV,
		})
	}
	return out
}

func summarizeDistances(vals []float64) DistanceStats {
	st := DistanceStats{Count: len(vals)}
	switch len(vals) {
	case 0:
		return st
	case 1:
		st.Average = vals[0]
	default:
		st.Average, st.StdDev = stat.MeanStdDev(vals, nil)
	}
	if st.Average > 0 {
		st.CV = st.StdDev / st.Average
	}
	st.Median, _ = stats.Median(vals)
	st.P95, _ = stats.Percentile(vals, 95)
	st.Max, _ = stats.Max(vals)
	return st
}

func subjectName(names []string, s int) string {
	if s < len(names) && names[s] != "" {
		return names[s]
	}
	return "subject" + strconv.Itoa(s+1)
}
