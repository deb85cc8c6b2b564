package schedule

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{"daily one time", Schedule{Type: TypeDaily, Times: []string{"09:00"}}, false},
		{"daily several times", Schedule{Type: TypeDaily, Times: []string{"09:00", "17:33", "05:33"}}, false},
		{"daily empty", Schedule{Type: TypeDaily}, true},
		{"daily duplicate", Schedule{Type: TypeDaily, Times: []string{"09:00", "09:00"}}, true},
		{"daily bad clock", Schedule{Type: TypeDaily, Times: []string{"9am"}}, true},
		{"daily out of range", Schedule{Type: TypeDaily, Times: []string{"24:00"}}, true},
		{"interval minutes", Schedule{Type: TypeInterval, Every: 5, Unit: UnitMinutes}, false},
		{"interval anchored", Schedule{Type: TypeInterval, Every: 2, Unit: UnitHours, Anchor: "06:15"}, false},
		{"interval zero", Schedule{Type: TypeInterval, Every: 0, Unit: UnitHours}, true},
		{"interval bad unit", Schedule{Type: TypeInterval, Every: 1, Unit: "weeks"}, true},
		{"interval bad anchor", Schedule{Type: TypeInterval, Every: 1, Unit: UnitHours, Anchor: "noon"}, true},
		{"unknown type", Schedule{Type: "cron"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.s.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("got %v, want ErrInvalidSchedule", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
