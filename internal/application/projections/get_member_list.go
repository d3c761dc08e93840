package projections

import (
	"context"
	"sort"
	"strings"

	"github.com/revolutedigital/igreja-betania/internal/application/listutil"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	domainMember "github.com/revolutedigital/igreja-betania/internal/domain/member"
)

// Member list sort columns and filters accepted from the query string.
var (
	MemberListSortColumns = []string{"nome", "whatsapp"}
	MemberListFilterKeys  = []string{"grupoPequeno", "pendingSync"}
)

// GetMemberListQuery carries query parameters.
type GetMemberListQuery struct {
	listutil.ListParams
}

// GetMemberListResult carries the query result.
type GetMemberListResult struct {
	Members []domainMember.Member `json:"members"`
	Page    listutil.PageInfo     `json:"page"`
	orchestrators.ReadMeta
}

// GetMemberListDeps holds dependencies for GetMemberList.
type GetMemberListDeps struct {
	Members MemberSource
}

// QueryGetMemberList retrieves one page of the member directory.
// PRE: Valid query parameters
// POST: Returns members matching the search and filters, sorted and paginated
// INVARIANT: Page is clamped to the available pages
func QueryGetMemberList(ctx context.Context, query GetMemberListQuery, deps GetMemberListDeps) (GetMemberListResult, error) {
	list, err := deps.Members.ListMembers(ctx)
	if err != nil {
		return GetMemberListResult{}, err
	}

	search := strings.ToLower(strings.TrimSpace(query.Search))
	var matched []domainMember.Member
	for _, m := range list.Members {
		if search != "" && !strings.Contains(strings.ToLower(m.Name), search) && !strings.Contains(m.WhatsApp, search) {
			continue
		}
		if v, ok := query.Filters["grupoPequeno"]; ok && (v == "true") != m.SmallGroup {
			continue
		}
		if v, ok := query.Filters["pendingSync"]; ok && (v == "true") != m.PendingSync {
			continue
		}
		matched = append(matched, m)
	}

	sortMembers(matched, query.Sort, query.Dir)

	page := listutil.NewPageInfo(query.Page, query.PerPage, len(matched))
	return GetMemberListResult{
		Members:  listutil.Paginate(matched, page),
		Page:     page,
		ReadMeta: list.ReadMeta,
	}, nil
}

func sortMembers(members []domainMember.Member, column, dir string) {
	less := func(a, b domainMember.Member) bool {
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	}
	if column == "whatsapp" {
		less = func(a, b domainMember.Member) bool { return a.WhatsApp < b.WhatsApp }
	}
	sort.SliceStable(members, func(i, j int) bool {
		if dir == "desc" {
			return less(members[j], members[i])
		}
		return less(members[i], members[j])
	})
}
