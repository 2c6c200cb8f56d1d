package exitrules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exit_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullRules = `rules:
  hard_stop_loss:
    enabled: true
    params:
      stop_loss_pct: 0.50
  hard_profit_target:
    enabled: true
    params:
      profit_target_pct: 0.75
  dte_close:
    enabled: true
    params:
      close_dte: 3
  thesis_invalidation:
    enabled: true
  conviction_collapse:
    enabled: true
    params:
      exit_below: 40
      trim_below: 60
  dte_urgency:
    enabled: true
    params:
      urgency_dte: 7
      tight_profit_pct: 0.25
`

func TestRegistryLoadsRulesInPriorityOrder(t *testing.T) {
	r, err := NewRegistry(writeRules(t, fullRules))
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap.Rules, 6)
	assert.Equal(t, RuleHardStopLoss, snap.Rules[0].Handler.ID())
	assert.Equal(t, RuleHardProfitTarget, snap.Rules[1].Handler.ID())
	assert.Equal(t, RuleDTEUrgency, snap.Rules[5].Handler.ID())
	assert.Equal(t, int64(1), snap.Version)
}

func TestRegistryHardRuleDisableIgnored(t *testing.T) {
	r, err := NewRegistry(writeRules(t, `rules:
  hard_stop_loss:
    enabled: false
  dte_close:
    enabled: false
`))
	require.NoError(t, err)

	snap := r.Snapshot()
	ids := make([]string, 0, len(snap.Rules))
	for _, rule := range snap.Rules {
		ids = append(ids, rule.Handler.ID())
	}
	// Hard rules stay active despite enabled: false; dte_close drops out.
	assert.Contains(t, ids, RuleHardStopLoss)
	assert.Contains(t, ids, RuleHardProfitTarget)
	assert.NotContains(t, ids, RuleDTEClose)
}

func TestRegistryDefaultsWhenFileOmitsRules(t *testing.T) {
	r, err := NewRegistry(writeRules(t, "rules: {}\n"))
	require.NoError(t, err)

	// Every rule defaults to enabled with nil params.
	assert.Len(t, r.Snapshot().Rules, 6)
}

func TestRegistryRejectsUnknownRule(t *testing.T) {
	_, err := NewRegistry(writeRules(t, `rules:
  moon_phase:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exit rule")
}

func TestRegistryRejectsInvalidParams(t *testing.T) {
	_, err := NewRegistry(writeRules(t, `rules:
  hard_stop_loss:
    enabled: true
    params:
      stop_loss_pct: 5.0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard_stop_loss")
}

func TestRegistryRejectsUnknownParamKey(t *testing.T) {
	_, err := NewRegistry(writeRules(t, `rules:
  dte_close:
    enabled: true
    params:
      close_dte: 3
      typo_key: 1
`))
	require.Error(t, err)
}

func TestRegistryRequiresPath(t *testing.T) {
	_, err := NewRegistry("  ")
	require.Error(t, err)
}
