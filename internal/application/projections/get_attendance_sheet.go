package projections

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
)

// ErrServiceRequired is returned when no service id is given.
var ErrServiceRequired = errors.New("service id is required")

// GetAttendanceSheetQuery carries query parameters.
type GetAttendanceSheetQuery struct {
	ServiceID string
}

// AttendanceRow is one member line on the sheet.
type AttendanceRow struct {
	MemberID    string `json:"membroId"`
	MemberName  string `json:"nome"`
	Present     bool   `json:"presente"`
	PendingSync bool   `json:"pendingSync,omitempty"`
}

// GetAttendanceSheetResult carries the query result.
type GetAttendanceSheetResult struct {
	ServiceID    string          `json:"serviceId"`
	Rows         []AttendanceRow `json:"rows"`
	PresentCount int             `json:"presentCount"`
	orchestrators.ReadMeta
}

// GetAttendanceSheetDeps holds dependencies for GetAttendanceSheet.
type GetAttendanceSheetDeps struct {
	Source AttendanceSource
}

// QueryGetAttendanceSheet lists every member with their presence at one service.
// PRE: query.ServiceID is non-empty
// POST: Returns one row per member ordered by name; members without a mark have Present=false
// INVARIANT: ReadMeta reports the less fresh of the two reads
func QueryGetAttendanceSheet(ctx context.Context, query GetAttendanceSheetQuery, deps GetAttendanceSheetDeps) (GetAttendanceSheetResult, error) {
	if query.ServiceID == "" {
		return GetAttendanceSheetResult{}, ErrServiceRequired
	}

	members, err := deps.Source.ListMembers(ctx)
	if err != nil {
		return GetAttendanceSheetResult{}, err
	}
	marks, err := deps.Source.ListAttendance(ctx, query.ServiceID)
	if err != nil {
		return GetAttendanceSheetResult{}, err
	}

	type markState struct{ present, pending bool }
	byMember := make(map[string]markState, len(marks.Marks))
	for _, m := range marks.Marks {
		byMember[m.MemberID] = markState{present: m.Present, pending: m.PendingSync}
	}

	result := GetAttendanceSheetResult{
		ServiceID: query.ServiceID,
		Rows:      make([]AttendanceRow, 0, len(members.Members)),
		ReadMeta:  members.ReadMeta,
	}
	if marks.Offline() {
		result.ReadMeta = marks.ReadMeta
	}
	for _, m := range members.Members {
		st := byMember[m.ID]
		result.Rows = append(result.Rows, AttendanceRow{
			MemberID:    m.ID,
			MemberName:  m.Name,
			Present:     st.present,
			PendingSync: st.pending,
		})
		if st.present {
			result.PresentCount++
		}
	}
	sort.SliceStable(result.Rows, func(i, j int) bool {
		return strings.ToLower(result.Rows[i].MemberName) < strings.ToLower(result.Rows[j].MemberName)
	})
	return result, nil
}
