// Package tier classifies proposed tasks into an autonomy tier. It is a
// pure function: the same inputs always produce the same tier, with no
// dependency on ledger, store, or clock.
package tier

import (
	"strings"

	"github.com/cortex-work/engine/internal/model"
)

// t2Keywords gate autonomous execution entirely; a hit always returns T2
// regardless of any suggested tier.
var t2Keywords = []string{
	"deploy", "production", "publish", "release", "customer", "outbound",
	"email send", "billing", "payment", "spend", "purchase", "delete",
	"destroy", "public",
}

// t1Keywords promote an otherwise-T0 task to budget-constrained T1.
var t1Keywords = []string{
	"staging", "experiment", "a/b test", "trial", "prototype", "draft",
}

// Resolve classifies a proposed task into its autonomy tier.
//
// Order of rules (see SPEC_FULL.md §4.3):
//  1. suggestedTier = T2 is a one-way ratchet: return T2 immediately.
//  2. Any T2 keyword in title+description overrides everything, including
//     a suggestedTier of T1.
//  3. Any T1 keyword promotes to T1.
//  4. suggestedTier = T1 with no keyword hit still yields T1.
//  5. Otherwise T0.
func Resolve(title, description string, suggestedTier model.AutonomyTier) model.AutonomyTier {
	if suggestedTier == model.TierT2 {
		return model.TierT2
	}

	haystack := strings.ToLower(title + " " + description)

	if containsAny(haystack, t2Keywords) {
		return model.TierT2
	}
	if containsAny(haystack, t1Keywords) {
		return model.TierT1
	}
	if suggestedTier == model.TierT1 {
		return model.TierT1
	}
	return model.TierT0
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
