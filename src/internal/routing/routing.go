package routing

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/simplereview/review-service/src/internal/model"
)

// Matcher evaluates per-project routing rules against branch names.
//
// Rule patterns are externally configured and therefore untrusted: a
// pattern that fails to compile never matches and never aborts evaluation
// of the remaining rules. Compiled patterns are kept in a capacity-bounded
// LRU so a project with many rules does not recompile on every event.
type Matcher struct {
	cache *lru.Cache[string, *regexp.Regexp]
	log   *zap.Logger
}

const defaultCacheSize = 512

func NewMatcher(cacheSize int, logger *zap.Logger) *Matcher {
	if cacheSize < 1 {
		cacheSize = defaultCacheSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *regexp.Regexp](cacheSize)
	return &Matcher{cache: cache, log: logger}
}

// Matches reports whether any rule's source pattern fully matches branch.
func (m *Matcher) Matches(branch string, rules []model.RoutingRule) bool {
	for _, rule := range rules {
		if m.fullMatch(rule.SourcePattern, branch) {
			return true
		}
	}
	return false
}

// Targets returns the target patterns of every rule whose source pattern
// fully matches branch, in rule order, duplicates preserved.
func (m *Matcher) Targets(branch string, rules []model.RoutingRule) []string {
	var targets []string
	for _, rule := range rules {
		if m.fullMatch(rule.SourcePattern, branch) {
			targets = append(targets, rule.TargetPattern)
		}
	}
	return targets
}

func (m *Matcher) fullMatch(pattern, branch string) bool {
	re, err := m.compile(pattern)
	if err != nil {
		m.log.Warn("skipping malformed routing rule pattern",
			zap.String("pattern", pattern), zap.Error(err))
		return false
	}
	return re.MatchString(branch)
}

func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.cache.Get(pattern); ok {
		return re, nil
	}
	// Full-string semantics: "feature" must not match "my-feature-branch".
	re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		return nil, err
	}
	m.cache.Add(pattern, re)
	return re, nil
}
