package sync

import (
	"fmt"
	"strings"
	"time"
)

// classify decides what a remote/local pair turns into. ok is false when the
// pair needs no change.
//
// With only the remote side changed the pair is always Updated. Conflict is
// returned only when local-edit detection is on and the local row was itself
// modified after the watermark.
func classify(foundLocal bool, diff []string, localEditedSince bool) (ct ChangeType, ok bool) {
	switch {
	case !foundLocal:
		return New, true
	case len(diff) == 0:
		return "", false
	case localEditedSince:
		return Conflict, true
	default:
		return Updated, true
	}
}

func describe(ct ChangeType, r Record, diff []string) string {
	switch ct {
	case New:
		return fmt.Sprintf("New %s", r.Label())
	case Conflict:
		return fmt.Sprintf("Conflicting %s (both sides changed: %s)", r.Label(), strings.Join(diff, ", "))
	default:
		return fmt.Sprintf("Updated %s (%s)", r.Label(), strings.Join(diff, ", "))
	}
}

// Watermark returns the lower bound for time-filtered scans.
func Watermark(lastSync time.Time, valid bool) time.Time {
	if !valid || lastSync.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return lastSync.UTC()
}
