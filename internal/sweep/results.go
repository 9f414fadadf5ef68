package sweep

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Results is a sweep's plan and measured points, persisted as JSON so an
// interrupted sweep keeps what it measured.
type Results struct {
	RunID  string  `json:"run_id,omitempty"`
	Plan   Plan    `json:"plan"`
	Points []Point `json:"points"`
}

// LoadResults reads a results file. A missing or corrupt file yields empty
// results.
func LoadResults(path string) *Results {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Results{}
	}
	var r Results
	if err := json.Unmarshal(data, &r); err != nil {
		slog.Warn("sweep results corrupted, starting fresh", "path", path, "error", err)
		return &Results{}
	}
	return &r
}

// Save writes the results to path.
func (r *Results) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sweep results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write sweep results: %w", err)
	}
	return nil
}

// Record appends a point.
func (r *Results) Record(p Point) {
	r.Points = append(r.Points, p)
}

// Format renders the curve as a plain table, one row per bias.
func (r *Results) Format() string {
	if len(r.Points) == 0 {
		return ""
	}
	var drains []string
	for name := range r.Points[0].Current {
		drains = append(drains, name)
	}
	sort.Strings(drains)

	var b strings.Builder
	b.WriteString("bias\tdrain_v\ttotal")
	for _, d := range drains {
		b.WriteString("\t" + d)
	}
	b.WriteString("\n")
	for _, p := range r.Points {
		fmt.Fprintf(&b, "%.4g\t%.4g\t%.5f", p.Bias, p.DrainPotential, p.TotalCurrent())
		for _, d := range drains {
			fmt.Fprintf(&b, "\t%.5f", p.Current[d])
		}
		b.WriteString("\n")
	}
	return b.String()
}
