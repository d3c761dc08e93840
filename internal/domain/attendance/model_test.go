package attendance_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
)

// TestMarkValidation tests validation of Mark.
func TestMarkValidation(t *testing.T) {
	tests := []struct {
		name    string
		mark    attendance.Mark
		wantErr bool
	}{
		{"valid mark", attendance.Mark{ID: "a1", MemberID: "m1", ServiceID: "c1", Present: true}, false},
		{"absent mark", attendance.Mark{ID: "a1", MemberID: "m1", ServiceID: "c1"}, false},
		{"missing member", attendance.Mark{ID: "a1", ServiceID: "c1"}, true},
		{"missing service", attendance.Mark{ID: "a1", MemberID: "m1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mark.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Mark.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestLocalID verifies the offline id layout.
func TestLocalID(t *testing.T) {
	at := time.UnixMilli(1704600000123)
	if got := attendance.LocalID("m1", "c1", at); got != "m1-c1-1704600000123" {
		t.Errorf("LocalID() = %q, want m1-c1-1704600000123", got)
	}
}

// TestUpsertPayload verifies the replay body uses remote field names.
func TestUpsertPayload(t *testing.T) {
	m := attendance.Mark{ID: "a1", MemberID: "m1", ServiceID: "c1", Present: true, PendingSync: true}
	raw, err := m.UpsertPayload()
	if err != nil {
		t.Fatalf("UpsertPayload() error = %v", err)
	}
	want := `{"membroId":"m1","cultoId":"c1","presente":true}`
	if string(raw) != want {
		t.Errorf("UpsertPayload() = %s, want %s", raw, want)
	}

	var pair attendance.Pair
	if err := json.Unmarshal(raw, &pair); err != nil {
		t.Fatalf("unmarshal pair: %v", err)
	}
	if attendance.PairKey(pair.MemberID, pair.ServiceID) != m.Key() {
		t.Errorf("pair key = %q, want %q", attendance.PairKey(pair.MemberID, pair.ServiceID), m.Key())
	}
}
