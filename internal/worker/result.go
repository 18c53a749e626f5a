package worker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Step names a stage of the run pipeline
type Step string

const (
	StepInit              Step = "init"
	StepStartSync         Step = "startSync"
	StepValidation        Step = "validation"
	StepEraseDeletedEvent Step = "eraseDeletedEvent"
	StepSyncEvents        Step = "syncEvents"
	StepSyncNewCalendar   Step = "syncNewCalendar"
	StepInitAccount       Step = "initAccount"
	StepEndSync           Step = "endSync"
)

// EraseResult counts items removed by the erase step
type EraseResult struct {
	Notion    int `json:"notion"`
	EventLink int `json:"eventLink"`
}

// SyncEventsResult counts items seen by the diff step
type SyncEventsResult struct {
	GCalCalendarCount int `json:"gCalCalendarCount"`
	Notion2GCalCount  int `json:"notion2GCalCount"`
	GCal2NotionCount  int `json:"gCal2NotionCount"`
}

// NewCalendarResult describes one calendar imported by the run
type NewCalendarResult struct {
	ID         int64  `json:"id"`
	GCalID     string `json:"gCalId"`
	GCalName   string `json:"gCalName"`
	EventCount int    `json:"eventCount"`
}

// Result is the outcome of one run. Counters stay -1 for steps that did not run.
type Result struct {
	Step              Step                          `json:"step"`
	Fail              bool                          `json:"fail"`
	FailReason        string                        `json:"failReason,omitempty"`
	EraseDeletedEvent EraseResult                   `json:"eraseDeletedEvent"`
	SyncEvents        SyncEventsResult              `json:"syncEvents"`
	SyncNewCalendar   map[string]*NewCalendarResult `json:"syncNewCalendar"`
	SimpleResponse    string                        `json:"simpleResponse"`
}

func newResult() *Result {
	return &Result{
		Step:              StepInit,
		EraseDeletedEvent: EraseResult{Notion: -1, EventLink: -1},
		SyncEvents:        SyncEventsResult{GCalCalendarCount: -1, Notion2GCalCount: -1, GCal2NotionCount: -1},
		SyncNewCalendar:   map[string]*NewCalendarResult{},
	}
}

// NewCalendarCount returns how many calendars were imported and their total event count
func (r *Result) NewCalendarCount() (calendars, events int) {
	for _, c := range r.SyncNewCalendar {
		calendars++
		events += c.EventCount
	}
	return calendars, events
}

// summarize fills SimpleResponse:
// userId status step erase.notion erase.eventLink gCalCalendarCount gCal2NotionCount notion2GCalCount newCalendars newEvents elapsedSec
func (r *Result) summarize(userID int64, elapsed time.Duration) {
	status := "SUCCESS"
	if r.Fail {
		status = "FAIL"
	}
	calendars, events := r.NewCalendarCount()
	seconds := math.Round(float64(elapsed.Milliseconds())) / 1000

	r.SimpleResponse = strings.Join([]string{
		strconv.FormatInt(userID, 10),
		status,
		string(r.Step),
		strconv.Itoa(r.EraseDeletedEvent.Notion),
		strconv.Itoa(r.EraseDeletedEvent.EventLink),
		strconv.Itoa(r.SyncEvents.GCalCalendarCount),
		strconv.Itoa(r.SyncEvents.GCal2NotionCount),
		strconv.Itoa(r.SyncEvents.Notion2GCalCount),
		strconv.Itoa(calendars),
		strconv.Itoa(events),
		fmt.Sprint(seconds),
	}, " ")
}
