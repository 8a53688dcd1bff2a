// Package tier maps subscription tiers to their provisioning defaults.
// The mapping is a closed, static table: the billing collaborator supplies
// the tier value, this package owns what the tier means.
package tier

import (
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
)

// Tier is the closed set of subscription tiers.
type Tier string

const (
	Trial        Tier = "TRIAL"
	Starter      Tier = "STARTER"
	Professional Tier = "PROFESSIONAL"
	Enterprise   Tier = "ENTERPRISE"
)

// Feature flags enabled per tier.
const (
	FeatureCoreAPI          = "core_api"
	FeatureAdvancedReports  = "advanced_reports"
	FeatureCustomBranding   = "custom_branding"
	FeatureSSOLogin         = "sso_login"
	FeaturePriorityExport   = "priority_export"
	FeatureConcurrencyBoost = "concurrency_boost"
)

// Defaults is the versioned provisioning profile for a tier.
type Defaults struct {
	Limits   map[quotadomain.ResourceType]int64
	Features []string
	Settings map[string]any
}

func (t Tier) Valid() bool {
	switch t {
	case Trial, Starter, Professional, Enterprise:
		return true
	default:
		return false
	}
}

// DefaultsFor returns the static defaults table entry for t. Unknown tiers
// fall back to Trial so a bad billing payload never provisions an unlimited
// tenant.
func DefaultsFor(t Tier) Defaults {
	d, ok := defaults[t]
	if !ok {
		return defaults[Trial]
	}
	return d
}

var defaults = map[Tier]Defaults{
	Trial: {
		Limits: map[quotadomain.ResourceType]int64{
			quotadomain.ResourceUsers:        3,
			quotadomain.ResourceClasses:      2,
			quotadomain.ResourceStorageBytes: 1 << 30, // 1 GiB
			quotadomain.ResourceAPICalls:     10_000,
			quotadomain.ResourceSessions:     5,
		},
		Features: []string{FeatureCoreAPI},
		Settings: map[string]any{
			"retention_days":  30,
			"support_channel": "community",
		},
	},
	Starter: {
		Limits: map[quotadomain.ResourceType]int64{
			quotadomain.ResourceUsers:        10,
			quotadomain.ResourceClasses:      10,
			quotadomain.ResourceStorageBytes: 10 << 30,
			quotadomain.ResourceAPICalls:     100_000,
			quotadomain.ResourceSessions:     25,
		},
		Features: []string{FeatureCoreAPI, FeaturePriorityExport},
		Settings: map[string]any{
			"retention_days":  90,
			"support_channel": "email",
		},
	},
	Professional: {
		Limits: map[quotadomain.ResourceType]int64{
			quotadomain.ResourceUsers:        100,
			quotadomain.ResourceClasses:      100,
			quotadomain.ResourceStorageBytes: 100 << 30,
			quotadomain.ResourceAPICalls:     1_000_000,
			quotadomain.ResourceSessions:     100,
		},
		Features: []string{
			FeatureCoreAPI,
			FeaturePriorityExport,
			FeatureAdvancedReports,
			FeatureCustomBranding,
		},
		Settings: map[string]any{
			"retention_days":  365,
			"support_channel": "email",
		},
	},
	Enterprise: {
		Limits: map[quotadomain.ResourceType]int64{
			quotadomain.ResourceUsers:        10_000,
			quotadomain.ResourceClasses:      10_000,
			quotadomain.ResourceStorageBytes: 1 << 40, // 1 TiB
			quotadomain.ResourceAPICalls:     50_000_000,
			quotadomain.ResourceSessions:     2_500,
		},
		Features: []string{
			FeatureCoreAPI,
			FeaturePriorityExport,
			FeatureAdvancedReports,
			FeatureCustomBranding,
			FeatureSSOLogin,
			FeatureConcurrencyBoost,
		},
		Settings: map[string]any{
			"retention_days":  1825,
			"support_channel": "dedicated",
		},
	},
}

// All lists every tier, for validation and tests.
func All() []Tier {
	return []Tier{Trial, Starter, Professional, Enterprise}
}
