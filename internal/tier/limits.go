package tier

import (
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
)

// OverrideSource supplies operator-configured limit overrides. The quota
// config holder implements it; a nil source means static defaults only.
type OverrideSource interface {
	LimitFor(tierName, resource string) (int64, bool)
}

// EffectiveLimits resolves the per-resource limits for a tier: the static
// defaults table, with any configured overrides applied on top.
func EffectiveLimits(t Tier, overrides OverrideSource) map[quotadomain.ResourceType]int64 {
	defaults := DefaultsFor(t)
	limits := make(map[quotadomain.ResourceType]int64, len(defaults.Limits))
	for resource, limit := range defaults.Limits {
		limits[resource] = limit
	}
	if overrides == nil {
		return limits
	}
	for _, resource := range quotadomain.All() {
		if limit, ok := overrides.LimitFor(string(t), string(resource)); ok {
			limits[resource] = limit
		}
	}
	return limits
}
