package notion

// Filter is a compound database query filter
type Filter struct {
	And []Filter `json:"and,omitempty"`
	Or  []Filter `json:"or,omitempty"`

	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	Checkbox       *CheckboxFilter `json:"checkbox,omitempty"`
	Select         *SelectFilter   `json:"select,omitempty"`
	Date           *DateFilter     `json:"date,omitempty"`
	People         *PeopleFilter   `json:"people,omitempty"`
	LastEditedTime *DateFilter     `json:"last_edited_time,omitempty"`
}

// CheckboxFilter matches checkbox values
type CheckboxFilter struct {
	Equals bool `json:"equals"`
}

// SelectFilter matches select values
type SelectFilter struct {
	Equals     string `json:"equals,omitempty"`
	IsNotEmpty bool   `json:"is_not_empty,omitempty"`
}

// DateFilter matches date and timestamp values. Bounds are ISO-8601 strings.
type DateFilter struct {
	OnOrAfter  string `json:"on_or_after,omitempty"`
	OnOrBefore string `json:"on_or_before,omitempty"`
	Before     string `json:"before,omitempty"`
}

// PeopleFilter matches people, created_by and last_edited_by values
type PeopleFilter struct {
	Contains       string `json:"contains,omitempty"`
	DoesNotContain string `json:"does_not_contain,omitempty"`
}

// And combines filters with a logical and
func And(filters ...Filter) *Filter {
	return &Filter{And: filters}
}
