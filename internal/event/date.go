package event

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

// ErrInvalidDate marks a date range that mixes all-day and timed boundaries or is missing
var ErrInvalidDate = errors.New("invalid date")

const dayLayout = "2006-01-02"

// Moment is one boundary of a date range: either a day or a timestamp
type Moment struct {
	Date     string // YYYY-MM-DD, set for all-day boundaries
	DateTime string // RFC3339, set for timed boundaries
	TimeZone string
}

// IsAllDay reports whether the boundary is date-only
func (m Moment) IsAllDay() bool {
	return m.Date != ""
}

// IsZero reports whether neither form is set
func (m Moment) IsZero() bool {
	return m.Date == "" && m.DateTime == ""
}

// Time returns the instant of the boundary. Days resolve to midnight UTC.
func (m Moment) Time() (time.Time, error) {
	if m.IsAllDay() {
		return time.Parse(dayLayout, m.Date)
	}
	return time.Parse(time.RFC3339, m.DateTime)
}

// Date is a canonical range. All-day ranges carry an inclusive last day.
type Date struct {
	Start Moment
	End   Moment
}

// IsAllDay reports whether the range is date-only
func (d Date) IsAllDay() bool {
	return d.Start.IsAllDay()
}

// IsZero reports whether no boundary is set
func (d Date) IsZero() bool {
	return d.Start.IsZero() && d.End.IsZero()
}

// Validate checks both boundaries are set, parse, and share one kind
func (d Date) Validate() error {
	if d.Start.IsZero() || d.End.IsZero() {
		return fmt.Errorf("%w: missing boundary", ErrInvalidDate)
	}
	if d.Start.IsAllDay() != d.End.IsAllDay() {
		return fmt.Errorf("%w: mixed all-day and timed boundaries", ErrInvalidDate)
	}
	if _, err := d.Start.Time(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrInvalidDate, err)
	}
	if _, err := d.End.Time(); err != nil {
		return fmt.Errorf("%w: end: %v", ErrInvalidDate, err)
	}
	return nil
}

// Equal compares ranges by kind and instant, ignoring time zone labels
func (d Date) Equal(o Date) bool {
	if d.IsZero() || o.IsZero() {
		return d.IsZero() && o.IsZero()
	}
	if d.IsAllDay() != o.IsAllDay() {
		return false
	}
	return momentEqual(d.Start, o.Start) && momentEqual(d.End, o.End)
}

func momentEqual(a, b Moment) bool {
	ta, errA := a.Time()
	tb, errB := b.Time()
	if errA != nil || errB != nil {
		return a == b
	}
	return ta.Equal(tb)
}

// ConvertDateFromNotion reads a Notion date range. A missing end means end = start.
func ConvertDateFromNotion(v *notion.DateValue) (Date, error) {
	if v == nil || v.Start == "" {
		return Date{}, fmt.Errorf("%w: empty notion date", ErrInvalidDate)
	}
	tz := ""
	if v.TimeZone != nil {
		tz = *v.TimeZone
	}

	d := Date{Start: notionMoment(v.Start, tz)}
	if v.End != nil && *v.End != "" {
		d.End = notionMoment(*v.End, tz)
	} else {
		d.End = d.Start
	}

	if err := d.Validate(); err != nil {
		return Date{}, err
	}
	return d, nil
}

func notionMoment(value, tz string) Moment {
	if len(value) == len(dayLayout) {
		return Moment{Date: value}
	}
	return Moment{DateTime: value, TimeZone: tz}
}

// ConvertDateToNotion writes a canonical range in Notion form.
// Timed boundaries are written in UTC and end is omitted when it equals start.
func ConvertDateToNotion(d Date) (*notion.DateValue, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if d.IsAllDay() {
		v := &notion.DateValue{Start: d.Start.Date}
		if d.End.Date != d.Start.Date {
			end := d.End.Date
			v.End = &end
		}
		return v, nil
	}

	start, _ := d.Start.Time()
	end, _ := d.End.Time()
	v := &notion.DateValue{Start: start.UTC().Format(time.RFC3339)}
	if !end.Equal(start) {
		e := end.UTC().Format(time.RFC3339)
		v.End = &e
	}
	return v, nil
}

// ConvertDateFromCalendar reads Calendar boundaries. All-day ends are exclusive on the wire.
func ConvertDateFromCalendar(start, end *calendar.EventDateTime) (Date, error) {
	if start == nil || (start.Date == "" && start.DateTime == "") {
		return Date{}, fmt.Errorf("%w: missing calendar start", ErrInvalidDate)
	}
	if end == nil || (end.Date == "" && end.DateTime == "") {
		end = start
	}

	d := Date{
		Start: Moment{Date: start.Date, DateTime: start.DateTime, TimeZone: start.TimeZone},
		End:   Moment{Date: end.Date, DateTime: end.DateTime, TimeZone: end.TimeZone},
	}
	if d.Start.IsAllDay() {
		d.Start.DateTime, d.Start.TimeZone = "", ""
	}
	if d.End.IsAllDay() {
		d.End.DateTime, d.End.TimeZone = "", ""
	}
	if err := d.Validate(); err != nil {
		return Date{}, err
	}

	if d.IsAllDay() {
		exclusive, _ := time.Parse(dayLayout, d.End.Date)
		first, _ := time.Parse(dayLayout, d.Start.Date)
		last := exclusive.AddDate(0, 0, -1)
		if last.Before(first) {
			last = first
		}
		d.End.Date = last.Format(dayLayout)
	}
	return d, nil
}

// ConvertDateToCalendar writes a canonical range in Calendar form, with an exclusive all-day end
func ConvertDateToCalendar(d Date) (start, end *calendar.EventDateTime, err error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	if d.IsAllDay() {
		last, _ := time.Parse(dayLayout, d.End.Date)
		return &calendar.EventDateTime{Date: d.Start.Date},
			&calendar.EventDateTime{Date: last.AddDate(0, 0, 1).Format(dayLayout)},
			nil
	}

	startTime, _ := d.Start.Time()
	endTime, _ := d.End.Time()
	return &calendar.EventDateTime{DateTime: startTime.Format(time.RFC3339), TimeZone: d.Start.TimeZone},
		&calendar.EventDateTime{DateTime: endTime.Format(time.RFC3339), TimeZone: d.End.TimeZone},
		nil
}
