package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// Store defines the database operations needed by the index
type Store interface {
	FindUnavailabilitiesCovering(ctx context.Context, memberIDs []string, date time.Time) ([]model.Unavailability, error)
	ListMembers(ctx context.Context, query db.MemberQuery) ([]model.Member, error)
	ListAdministeredGroups(ctx context.Context, userID string) ([]model.FunctionGroup, error)
}

// Viewer identifies who is asking for the available-members lookup
type Viewer struct {
	UserID string
	Role   model.Role
}

// Filter narrows the available-members lookup. Zero values mean "no filter".
type Filter struct {
	Campus   string
	Ministry string
	Search   string
	Viewer   Viewer
}

// Index answers availability questions for members on a date
type Index struct {
	store  Store
	logger *zap.Logger
}

// NewIndex creates a new availability index
func NewIndex(store Store, logger *zap.Logger) *Index {
	return &Index{store: store, logger: logger}
}

// FindUnavailableMembers returns the ids of members in memberIDs with an unavailability covering date.
// The result is sorted and contains each id once.
func (ix *Index) FindUnavailableMembers(ctx context.Context, memberIDs []string, date time.Time) ([]string, error) {
	if len(memberIDs) == 0 {
		return []string{}, nil
	}

	unavailabilities, err := ix.store.FindUnavailabilitiesCovering(ctx, memberIDs, model.TruncateDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query unavailabilities: %w", err)
	}

	unavailable := UnavailableOn(unavailabilities, memberIDs, date)
	ix.logger.Debug("Checked member availability",
		zap.String("date", date.Format(model.DateLayout)),
		zap.Int("members", len(memberIDs)),
		zap.Strings("unavailable", unavailable))

	return unavailable, nil
}

// AvailableMembers returns active members without an unavailability on date, narrowed by filter.
// A group admin only sees members of ministries matching the groups they administer; a group admin
// with no groups sees nobody.
func (ix *Index) AvailableMembers(ctx context.Context, date time.Time, filter Filter) ([]model.Member, error) {
	criteria := []Criterion{textSearch{query: filter.Search}}

	if filter.Viewer.Role == model.RoleGroupAdmin {
		groups, err := ix.store.ListAdministeredGroups(ctx, filter.Viewer.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch administered groups: %w", err)
		}
		if len(groups) == 0 {
			ix.logger.Debug("Group admin administers no groups, returning no members",
				zap.String("user_id", filter.Viewer.UserID))
			return []model.Member{}, nil
		}
		criteria = append(criteria, newScopedMinistries(groups))
	}

	members, err := ix.store.ListMembers(ctx, db.MemberQuery{
		Campus:   filter.Campus,
		Ministry: filter.Ministry,
		Status:   model.MemberActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	unavailableIDs, err := ix.FindUnavailableMembers(ctx, ids, date)
	if err != nil {
		return nil, err
	}
	unavailable := make(map[string]bool, len(unavailableIDs))
	for _, id := range unavailableIDs {
		unavailable[id] = true
	}
	criteria = append(criteria, notUnavailable{unavailable: unavailable})

	available := make([]model.Member, 0, len(members))
	for i := range members {
		if allowAll(criteria, &members[i]) {
			available = append(available, members[i])
		}
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].Name < available[j].Name
	})

	return available, nil
}

// UnavailableOn returns the sorted, de-duplicated ids of members in memberIDs owning an
// unavailability that covers date
func UnavailableOn(unavailabilities []model.Unavailability, memberIDs []string, date time.Time) []string {
	wanted := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		wanted[id] = true
	}

	seen := make(map[string]bool)
	result := []string{}
	for _, u := range unavailabilities {
		if !wanted[u.MemberID] || seen[u.MemberID] || !u.Covers(date) {
			continue
		}
		seen[u.MemberID] = true
		result = append(result, u.MemberID)
	}

	sort.Strings(result)
	return result
}
