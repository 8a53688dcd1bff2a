package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeQuotasFile(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "quotas.yml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write quotas.yml: %v", err)
	}
	t.Chdir(dir)
}

func TestQuotaConfigHolderWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewQuotaConfigHolder()
	if err != nil {
		t.Fatalf("holder without config file: %v", err)
	}
	if _, ok := holder.LimitFor("TRIAL", "users"); ok {
		t.Fatalf("empty holder must have no overrides")
	}
}

func TestQuotaConfigHolderAppliesOverrides(t *testing.T) {
	writeQuotasFile(t, `
quota:
  overrides:
    - tier: trial
      resource: users
      limit: 7
    - tier: STARTER
      resource: api_calls
      limit: 250000
`)

	holder, err := NewQuotaConfigHolder()
	if err != nil {
		t.Fatalf("holder: %v", err)
	}

	limit, ok := holder.LimitFor("TRIAL", "users")
	if !ok || limit != 7 {
		t.Fatalf("trial users override = (%d, %t), want (7, true)", limit, ok)
	}

	// Tier and resource matching is case-insensitive.
	limit, ok = holder.LimitFor("starter", "API_CALLS")
	if !ok || limit != 250000 {
		t.Fatalf("starter api_calls override = (%d, %t), want (250000, true)", limit, ok)
	}

	if _, ok := holder.LimitFor("ENTERPRISE", "users"); ok {
		t.Fatalf("unconfigured pair must report no override")
	}
}

func TestQuotaConfigHolderRejectsInvalidEntries(t *testing.T) {
	writeQuotasFile(t, `
quota:
  overrides:
    - tier: trial
      resource: users
      limit: -1
`)

	if _, err := NewQuotaConfigHolder(); err == nil {
		t.Fatalf("negative limit must be rejected")
	}
}
