package backfill

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/proximity-cli/internal/model"
)

// Eligibility decides whether a normalized candidate may be indexed.
type Eligibility func(e model.Entity) bool

// AllowAll admits every candidate.
func AllowAll(model.Entity) bool { return true }

// AllowAttribute admits entities whose attribute key case-folds to one of
// values. With no values every entity is admitted.
func AllowAttribute(key string, values ...string) Eligibility {
	folder := cases.Fold()
	allowed := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		allowed[folder.String(v)] = struct{}{}
	}
	if len(allowed) == 0 {
		return AllowAll
	}
	return func(e model.Entity) bool {
		// cases.Caser is stateful; use a fresh one per call.
		_, ok := allowed[cases.Fold().String(strings.TrimSpace(e.Attr(key)))]
		return ok
	}
}
