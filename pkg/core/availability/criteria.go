package availability

import (
	"strings"

	"github.com/jakechorley/campus-rota/pkg/core/model"
)

// Criterion decides whether a member appears in the available-members lookup.
// A member is listed only if every criterion allows it.
type Criterion interface {
	// Name returns a human-readable identifier for this criterion
	Name() string

	// Allow returns false to veto the member
	Allow(member *model.Member) bool
}

// notUnavailable vetoes members with an unavailability covering the lookup date
type notUnavailable struct {
	unavailable map[string]bool
}

func (c notUnavailable) Name() string { return "NotUnavailable" }

func (c notUnavailable) Allow(member *model.Member) bool {
	return !c.unavailable[member.ID]
}

// scopedMinistries restricts a group admin to members whose ministry matches one of
// their administered function-group names. An empty set allows nobody.
type scopedMinistries struct {
	names map[string]bool
}

func newScopedMinistries(groups []model.FunctionGroup) scopedMinistries {
	names := make(map[string]bool, len(groups))
	for _, g := range groups {
		names[g.Name] = true
	}
	return scopedMinistries{names: names}
}

func (c scopedMinistries) Name() string { return "ScopedMinistries" }

func (c scopedMinistries) Allow(member *model.Member) bool {
	return c.names[member.Ministry]
}

// textSearch matches the query against name, email and phone, case-insensitively
type textSearch struct {
	query string
}

func (c textSearch) Name() string { return "TextSearch" }

func (c textSearch) Allow(member *model.Member) bool {
	q := strings.ToLower(strings.TrimSpace(c.query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(member.Name), q) ||
		strings.Contains(strings.ToLower(member.Email), q) ||
		strings.Contains(member.Phone, q)
}

func allowAll(criteria []Criterion, member *model.Member) bool {
	for _, c := range criteria {
		if !c.Allow(member) {
			return false
		}
	}
	return true
}
