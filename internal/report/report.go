package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"pairwatch/internal/detector"
)

// FormatBatches renders qualifying change events as alert message
// bodies. Events are ordered by absolute percentage change descending so
// the largest moves survive message-size limits, and the output is split
// into additional batches instead of truncating data. Formatting is
// deterministic for a given input.
func FormatBatches(events []detector.ChangeEvent, maxLen int) []string {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]detector.ChangeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].PctChange.Abs(), sorted[j].PctChange.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		if sorted[i].Exchange != sorted[j].Exchange {
			return sorted[i].Exchange < sorted[j].Exchange
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	lines := lo.Map(sorted, func(event detector.ChangeEvent, _ int) string {
		return renderLine(event)
	})

	return packLines(lines, maxLen)
}

func renderLine(event detector.ChangeEvent) string {
	label := fmt.Sprintf("%s (%s)", event.Symbol, event.Exchange)
	if event.MarketURL != "" {
		label = fmt.Sprintf("<a href='%s'>%s</a>", event.MarketURL, label)
	}

	sign := ""
	if event.PctChange.Sign() > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s: %s%s%% at %s USD", label, sign, event.PctChange.StringFixed(2), event.LatestPrice.StringFixed(6))
}

// packLines groups lines into messages no longer than maxLen. A single
// line that exceeds maxLen on its own is hard-wrapped across batches so
// every message respects the channel's size limit; events are never
// dropped here.
func packLines(lines []string, maxLen int) []string {
	batches := make([]string, 0, 1)
	var builder strings.Builder

	flush := func() {
		if builder.Len() > 0 {
			batches = append(batches, builder.String())
			builder.Reset()
		}
	}

	for _, line := range lines {
		if maxLen > 0 && len(line) > maxLen {
			flush()
			for len(line) > maxLen {
				batches = append(batches, line[:maxLen])
				line = line[maxLen:]
			}
			if line == "" {
				continue
			}
		}

		needed := len(line)
		if builder.Len() > 0 {
			needed += 1 // joining newline
		}
		if maxLen > 0 && builder.Len()+needed > maxLen {
			flush()
		}
		if builder.Len() > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(line)
	}
	flush()

	return batches
}
