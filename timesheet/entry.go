package timesheet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/estimator/core"
)

// Entry is one clock-in / clock-out record. Each of the four times may
// carry a free text location. TotalHours is derived from TimeIn and
// TimeOut and is recomputed on every write.
type Entry struct {
	ID         int64  `db:"id" json:"id"`
	UserID     int64  `db:"user_id" json:"user_id" validate:"required,gt=0"`
	EstimateID *int64 `db:"estimate_id" json:"estimate_id,omitempty"`

	Date         string `db:"date" json:"date" validate:"required,datetime=2006-01-02"`
	CustomerName string `db:"customer_name" json:"customer_name" validate:"required"`
	WorkOrder    string `db:"work_order" json:"work_order"`
	Notes        string `db:"notes" json:"notes"`

	TravelStart         string `db:"travel_start" json:"travel_start" validate:"clock"`
	TravelStartLocation string `db:"travel_start_location" json:"travel_start_location"`
	TimeIn              string `db:"time_in" json:"time_in" validate:"required,clock"`
	TimeInLocation      string `db:"time_in_location" json:"time_in_location"`
	TimeOut             string `db:"time_out" json:"time_out" validate:"required,clock"`
	TimeOutLocation     string `db:"time_out_location" json:"time_out_location"`
	TravelHome          string `db:"travel_home" json:"travel_home" validate:"clock"`
	TravelHomeLocation  string `db:"travel_home_location" json:"travel_home_location"`

	TotalHours decimal.Decimal `db:"total_hours" json:"total_hours"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

var (
	clockLayouts = []string{"15:04:05", "15:04"}
	secondsPerHr = decimal.NewFromInt(3600)
)

func parseClock(s string) (time.Duration, bool) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

// Hours returns out - in in hours, rounded to cents of an hour.
// Unparseable times give zero.
//
// An out earlier than in is counted as a shift that crossed midnight
// (22:00 to 02:00 is 4h), not as negative hours. The migration's derive
// statement for total_hours applies the same rule.
func Hours(in, out string) decimal.Decimal {
	start, ok := parseClock(in)
	if !ok {
		return decimal.Zero
	}
	end, ok := parseClock(out)
	if !ok {
		return decimal.Zero
	}
	d := end - start
	if d < 0 {
		d += 24 * time.Hour
	}
	return decimal.NewFromInt(int64(d / time.Second)).Div(secondsPerHr).Round(core.Cents)
}
