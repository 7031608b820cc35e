package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/cortex-work/engine/internal/model"
)

// CycleSummary is the human-readable lifecycle report the control surface's
// cost.summary/budget.status endpoints render alongside their raw numbers.
// Grounded on the teacher's beadLifecycleEvent/formatLifecycleNotification
// pair, generalized from one bead's lifecycle to one cycle's.
type CycleSummary struct {
	CycleNumber    int
	State          string
	TotalCostUsd   float64
	DailyCostUsd   float64
	WeeklyCostUsd  float64
	TasksCreated   int
	TasksCompleted int
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// NewCycleSummary builds a CycleSummary from a cycle record and the current
// state of the cost ledger.
func NewCycleSummary(cycle model.Cycle, l *Ledger) CycleSummary {
	now := time.Now()
	return CycleSummary{
		CycleNumber:    cycle.Number,
		State:          string(cycle.State),
		TotalCostUsd:   cycle.TotalCostUsd,
		DailyCostUsd:   l.DailyCost(now),
		WeeklyCostUsd:  l.WeeklyCost(now),
		TasksCreated:   cycle.TasksCreated,
		TasksCompleted: cycle.TasksCompleted,
		StartedAt:      cycle.StartedAt,
		CompletedAt:    cycle.CompletedAt,
	}
}

// String renders the summary as a short markdown-ish report.
func (c CycleSummary) String() string {
	var b strings.Builder
	b.WriteString("## Cycle Summary\n\n")
	fmt.Fprintf(&b, "- **Cycle:** `%d`\n", c.CycleNumber)
	fmt.Fprintf(&b, "- **State:** `%s`\n", c.State)
	fmt.Fprintf(&b, "- **Tasks:** `%d completed / %d created`\n", c.TasksCompleted, c.TasksCreated)
	fmt.Fprintf(&b, "- **Cycle Cost:** `$%.4f`\n", c.TotalCostUsd)
	fmt.Fprintf(&b, "- **Daily Spend:** `$%.4f`\n", c.DailyCostUsd)
	fmt.Fprintf(&b, "- **Weekly Spend:** `$%.4f`\n", c.WeeklyCostUsd)
	fmt.Fprintf(&b, "- **Started:** `%s`\n", c.StartedAt.UTC().Format(time.RFC3339))
	if c.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Completed:** `%s`\n", c.CompletedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}
