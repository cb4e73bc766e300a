// Package quota enforces per-tier review import caps.
package quota

import "github.com/listify/reviewsync/internal/model"

// Limits holds the review caps for one plan tier. MaxImport bounds how many
// reviews the pipeline will accept; MaxDisplay gates read-time presentation
// and is not enforced here.
type Limits struct {
	MaxImport  int `yaml:"max_import" mapstructure:"max_import"`
	MaxDisplay int `yaml:"max_display" mapstructure:"max_display"`
}

// defaultLimits is the static tier table.
var defaultLimits = map[model.PlanTier]Limits{
	model.TierFree:    {MaxImport: 10, MaxDisplay: 5},
	model.TierStarter: {MaxImport: 50, MaxDisplay: 25},
	model.TierPro:     {MaxImport: 200, MaxDisplay: 100},
	model.TierPower:   {MaxImport: 1000, MaxDisplay: 500},
}

// Enforcer answers whether a business may accept another review.
type Enforcer struct {
	limits map[model.PlanTier]Limits
}

// NewEnforcer returns an Enforcer with the default tier table, with any
// entries in overrides replacing their defaults.
func NewEnforcer(overrides map[model.PlanTier]Limits) *Enforcer {
	limits := make(map[model.PlanTier]Limits, len(defaultLimits))
	for tier, l := range defaultLimits {
		limits[tier] = l
	}
	for tier, l := range overrides {
		if !tier.Valid() {
			continue
		}
		limits[tier] = l
	}
	return &Enforcer{limits: limits}
}

// LimitsFor returns the limits for a tier. Unknown tiers fall back to free.
func (e *Enforcer) LimitsFor(tier model.PlanTier) Limits {
	if l, ok := e.limits[tier]; ok {
		return l
	}
	return e.limits[model.TierFree]
}

// Allow reports whether a business on the given tier with currentCount
// accepted reviews may accept one more. At or above the cap, the record is
// skipped with the quota outcome.
func (e *Enforcer) Allow(tier model.PlanTier, currentCount int) bool {
	return currentCount < e.LimitsFor(tier).MaxImport
}

// Remaining returns how many more reviews the business may accept.
func (e *Enforcer) Remaining(tier model.PlanTier, currentCount int) int {
	r := e.LimitsFor(tier).MaxImport - currentCount
	if r < 0 {
		return 0
	}
	return r
}
