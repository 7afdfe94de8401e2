package rush

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Amorter/bili-ticket/internal/purchase"
)

// WriteReport renders summary as a Markdown report.
func WriteReport(w io.Writer, plan Plan, summary Summary) error {
	plan = plan.withDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, `# Rush Report

**Run at:** %s
**Duration:** %.2fs

*Configuration: Workers=%d, Max attempts=%d, Backoff step=%v*

---

## 🎯 Result

| Metric | Value |
|--------|-------|
| Project | %d |
| Screen | %d |
| SKU | %d |
| Count | %d |
| Pay money | %d |
| Attempts | %d |
| Failures | %d |
| Order | %s |

`,
		summary.StartedAt.Format("Mon 02 Jan 2006, 15:04:05"),
		summary.Duration.Seconds(),
		summary.Workers,
		plan.MaxAttempts,
		plan.BaseDelay,
		plan.Selection.ProjectID,
		plan.Selection.ScreenID,
		plan.Selection.SkuID,
		plan.Selection.Count,
		plan.Selection.UnitPrice*int64(plan.Selection.Count),
		summary.Attempts,
		summary.Failures,
		orderCell(summary),
	)

	if len(summary.Reasons) > 0 {
		b.WriteString("---\n\n## ❌ Failure Reasons\n\n| Reason | Count |\n|--------|-------|\n")
		for _, reason := range sortedReasons(summary.Reasons) {
			fmt.Fprintf(&b, "| %s | %d |\n", escapeCell(reason), summary.Reasons[reason])
		}
		b.WriteString("\n")
	}

	d := summary.Latency
	fmt.Fprintf(&b, `---

## ⏱️  Latency Distribution

| Percentile | Latency |
|------------|---------|
| Min | %v |
| P50 | %v |
| P75 | %v |
| P90 | %v |
| P95 | %v |
| P99 | %v |
| Max | %v |
| Avg | %v |

---

`, d.Min, d.P50, d.P75, d.P90, d.P95, d.P99, d.Max, d.Avg)

	switch {
	case summary.Won() && len(summary.Extra) > 0:
		fmt.Fprintf(&b, "🎉 **Status:** Order %s created. %d extra order(s) need cancelling: %s.\n",
			summary.OrderID, len(summary.Extra), joinOrders(summary.Extra))
	case summary.Won():
		fmt.Fprintf(&b, "🎉 **Status:** Order %s created.\n", summary.OrderID)
	case summary.Err != nil:
		fmt.Fprintf(&b, "⚠️  **Status:** Stopped: %s.\n", summary.Err)
	default:
		b.WriteString("⚠️  **Status:** No order created.\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// SaveReport writes the report to a timestamped file under dir and returns its path.
func SaveReport(dir string, plan Plan, summary Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	filename := filepath.Join(dir, fmt.Sprintf("rush-report-%s.md", time.Now().Format("20060102-150405")))
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	if err := WriteReport(file, plan, summary); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return filename, nil
}

func orderCell(s Summary) string {
	if !s.Won() {
		return "none"
	}
	return s.OrderID.String()
}

func sortedReasons(reasons map[string]int) []string {
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if reasons[a] != reasons[b] {
			return reasons[b] - reasons[a]
		}
		return strings.Compare(a, b)
	})
	return keys
}

func joinOrders(ids []purchase.OrderID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
