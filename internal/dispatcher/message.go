package dispatcher

import (
	"fmt"
	"strings"

	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/recommendation"
)

// priorityGlyph prefixes the title line of the rendered message.
func priorityGlyph(p detectors.Priority) string {
	switch p {
	case detectors.PriorityCritical:
		return "\U0001F6A8" // rotating light
	case detectors.PriorityHigh:
		return "⚠️" // warning sign
	case detectors.PriorityMedium:
		return "ℹ️" // information
	default:
		return "•"
	}
}

// confidenceBand buckets a 0-100 confidence score into its display label.
func confidenceBand(confidence int) string {
	switch {
	case confidence >= 90:
		return "Very High"
	case confidence >= 80:
		return "High"
	case confidence >= 70:
		return "Moderate-High"
	case confidence >= 60:
		return "Moderate"
	default:
		return "Low"
	}
}

// titleCase upper-cases the first letter of a single lowercase word, enough
// for the priority enum without reaching for a locale-aware caser.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// handle returns the first 8 characters of id, the short reply-command
// token for `detail <handle>` / `dismiss <handle>`.
func handle(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// renderMessage builds the UTF-8 body sent to a single recipient, following
// a stable section order: title, message, optional data block,
// recommendations, optional action-required, priority, confidence.
func renderMessage(id string, rec recommendation.Recommendation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n\n", priorityGlyph(rec.Priority), rec.Payload.Title)
	b.WriteString(rec.Payload.Message)
	b.WriteString("\n")

	if ev := rec.Payload.Evidence; ev != (detectors.Evidence{}) {
		b.WriteString("\nData:\n")
		fmt.Fprintf(&b, "  Current: %.2f\n", ev.Current)
		fmt.Fprintf(&b, "  Baseline: %.2f\n", ev.Baseline)
		fmt.Fprintf(&b, "  Variance: %.1f%%\n", ev.VariancePct)
		fmt.Fprintf(&b, "  Threshold: %.1f%%\n", ev.ThresholdPct)
	}

	if len(rec.Payload.SuggestedActions) > 0 {
		b.WriteString("\nRecommendations:\n")
		for i, action := range rec.Payload.SuggestedActions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, action)
		}
	}

	if rec.Payload.ActionRequired != "" {
		fmt.Fprintf(&b, "\nAction Required: %s\n", rec.Payload.ActionRequired)
	}

	fmt.Fprintf(&b, "\nPriority: %s\n", titleCase(string(rec.Priority)))
	fmt.Fprintf(&b, "Confidence: %d%% (%s)\n", rec.Confidence, confidenceBand(rec.Confidence))
	fmt.Fprintf(&b, "\nReply: detail %s | dismiss %s", handle(id), handle(id))

	return b.String()
}
