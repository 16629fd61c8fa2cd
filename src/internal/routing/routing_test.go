package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
)

func rules(pairs ...[2]string) []model.RoutingRule {
	out := make([]model.RoutingRule, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, model.RoutingRule{ProjectID: 1, SourcePattern: p[0], TargetPattern: p[1]})
	}
	return out
}

func TestMatches_FullStringSemantics(t *testing.T) {
	m := NewMatcher(0, zap.NewNop())
	rs := rules([2]string{"feature/.*", "develop"})

	assert.True(t, m.Matches("feature/login", rs))
	assert.True(t, m.Matches("feature/", rs))
	assert.False(t, m.Matches("my-feature/login", rs), "substring match must not qualify")
	assert.False(t, m.Matches("feature", rs))
	assert.False(t, m.Matches("develop", rs))
}

func TestMatches_NoRules(t *testing.T) {
	m := NewMatcher(0, zap.NewNop())
	assert.False(t, m.Matches("feature/x", nil))
}

func TestMatches_MalformedRuleNeverMatchesNeverPanics(t *testing.T) {
	m := NewMatcher(0, zap.NewNop())
	rs := rules(
		[2]string{"feature/(", "develop"}, // unbalanced paren
		[2]string{"hotfix/.*", "master"},
	)

	assert.NotPanics(t, func() {
		assert.False(t, m.Matches("feature/(", rs))
		// The malformed rule is skipped, later rules still evaluate.
		assert.True(t, m.Matches("hotfix/crash", rs))
	})
}

func TestTargets_OrderAndDuplicatesPreserved(t *testing.T) {
	m := NewMatcher(0, zap.NewNop())
	rs := rules(
		[2]string{"feature/.*", "develop"},
		[2]string{"bug/.*", "develop"},
		[2]string{"feature/.*", "release/.*"},
		[2]string{"feature/big-.*", "develop"},
	)

	got := m.Targets("feature/big-refactor", rs)
	assert.Equal(t, []string{"develop", "release/.*", "develop"}, got)

	assert.Empty(t, m.Targets("docs/readme", rs))
}

func TestCompileCacheReuse(t *testing.T) {
	m := NewMatcher(2, zap.NewNop())
	rs := rules([2]string{"feature/.*", "develop"})

	for i := 0; i < 10; i++ {
		assert.True(t, m.Matches("feature/x", rs))
	}
	assert.Equal(t, 1, m.cache.Len())
}
