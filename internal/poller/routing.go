package poller

import (
	"maps"
	"strings"

	"github.com/barff/frankd/internal/tracker"
)

// Candidate is a new issue together with the configured label that found it.
type Candidate struct {
	Issue tracker.Issue
	Label string
}

// Plan is what one cycle dispatches.
type Plan struct {
	Prompt  string
	Batch   bool
	Type    string
	Command string
	Items   []Candidate
}

// Router maps task types to slash commands and builds prompts.
type Router struct {
	Separator    string
	BatchType    string
	BatchCommand string
	Routes       map[string]string
	BodyLimit    int
}

// DefaultRouter returns the built-in routing table.
func DefaultRouter() Router {
	return Router{
		Separator:    ":",
		BatchType:    "build",
		BatchCommand: "/build-issues",
		Routes: map[string]string{
			"fix":    "/fix-issue",
			"review": "/review-issue",
			"docs":   "/docs-issue",
		},
		BodyLimit: DefaultBodyLimit,
	}
}

// Clone returns a deep copy.
func (r Router) Clone() Router {
	r.Routes = maps.Clone(r.Routes)
	return r
}

// TaskType returns the second segment of label, or "" when label has none.
func (r Router) TaskType(label string) string {
	sep := r.Separator
	if sep == "" {
		sep = ":"
	}
	parts := strings.Split(label, sep)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Plan picks the cycle's dispatch. Any batch-type candidates win and are
// dispatched together with the single batch command; otherwise the first
// candidate, in tracker order, gets a routed prompt. Plan returns false when
// candidates is empty.
func (r Router) Plan(candidates []Candidate) (Plan, bool) {
	if len(candidates) == 0 {
		return Plan{}, false
	}

	if r.BatchType != "" {
		var batch []Candidate
		for _, c := range candidates {
			if r.TaskType(c.Label) == r.BatchType {
				batch = append(batch, c)
			}
		}
		if len(batch) > 0 {
			return Plan{
				Prompt:  r.BatchCommand,
				Batch:   true,
				Type:    r.BatchType,
				Command: r.BatchCommand,
				Items:   batch,
			}, true
		}
	}

	c := candidates[0]
	typ := r.TaskType(c.Label)
	cmd := r.Routes[typ]
	return Plan{
		Prompt:  r.Prompt(c, typ, cmd),
		Type:    typ,
		Command: cmd,
		Items:   []Candidate{c},
	}, true
}
