package service

import (
	"sort"

	"github.com/simplereview/review-service/src/internal/model"
)

// ResolveReviewers computes the notification recipient set for a project.
//
// The base set depends on the reviewer mode (group members, project
// members, or nobody), then the policy's include list and optionally the
// process-wide default reviewers are added, the exclude list is removed,
// and finally the author is dropped when more than one reviewer remains.
// A sole reviewer who is also the author is kept: a push by the only
// eligible reviewer should still notify someone.
//
// The result is de-duplicated and sorted. Empty is a valid outcome; the
// caller suppresses sending.
func ResolveReviewers(policy model.ProjectPolicy, groupEmails, projectEmails, defaultReviewers []string, authorEmail string) []string {
	set := make(map[string]struct{})

	switch policy.ReviewerMode {
	case model.ReviewerModeGroup:
		for _, e := range groupEmails {
			addEmail(set, e)
		}
	case model.ReviewerModeProject:
		for _, e := range projectEmails {
			addEmail(set, e)
		}
	case model.ReviewerModeNone:
		// Only the include lists below apply.
	}

	for _, e := range policy.IncludeList {
		addEmail(set, e)
	}
	if policy.IncludeDefaultReviewers {
		for _, e := range defaultReviewers {
			addEmail(set, e)
		}
	}
	for _, e := range policy.ExcludeList {
		delete(set, e)
	}

	if len(set) > 1 {
		delete(set, authorEmail)
	}

	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func addEmail(set map[string]struct{}, email string) {
	if email != "" {
		set[email] = struct{}{}
	}
}
