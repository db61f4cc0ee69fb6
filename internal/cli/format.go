package cli

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/smallbiznis/fintrack/internal/authclient/orchestrator"
)

// formatDuration renders hours as whole minutes below one hour and one-decimal hours above.
func formatDuration(hours float64) string {
	if hours < 1 {
		return fmt.Sprintf("%dm", int(math.Round(hours*60)))
	}
	return fmt.Sprintf("%.1fh", hours)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func itoa(n int) string { return strconv.Itoa(n) }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func drain(ch <-chan orchestrator.Snapshot) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
