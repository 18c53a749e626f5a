package notion

import (
	"encoding/json"
	"strings"
	"time"
)

// Property types used by the sync database
const (
	TypeTitle        = "title"
	TypeRichText     = "rich_text"
	TypeSelect       = "select"
	TypeDate         = "date"
	TypeCheckbox     = "checkbox"
	TypeURL          = "url"
	TypeLastEditedBy = "last_edited_by"
)

// Text is the text body of a rich text item
type Text struct {
	Content string `json:"content"`
}

// RichText is one rich text segment
type RichText struct {
	Type      string `json:"type,omitempty"`
	Text      *Text  `json:"text,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
}

// NewText builds a single plain text segment
func NewText(content string) []RichText {
	return []RichText{{Type: "text", Text: &Text{Content: content}}}
}

// PlainText concatenates the plain text of all segments
func PlainText(segments []RichText) string {
	var b strings.Builder
	for _, s := range segments {
		switch {
		case s.PlainText != "":
			b.WriteString(s.PlainText)
		case s.Text != nil:
			b.WriteString(s.Text.Content)
		}
	}
	return b.String()
}

// DateValue is a Notion date range. Ten-character values are date-only.
type DateValue struct {
	Start    string  `json:"start"`
	End      *string `json:"end"`
	TimeZone *string `json:"time_zone,omitempty"`
}

// SelectOption is a select value or schema option
type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// User is a person or bot reference
type User struct {
	Object string `json:"object,omitempty"`
	ID     string `json:"id"`
}

// PropertyValue is the value of one page property
type PropertyValue struct {
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Title        []RichText    `json:"title,omitempty"`
	RichText     []RichText    `json:"rich_text,omitempty"`
	Select       *SelectOption `json:"select,omitempty"`
	Date         *DateValue    `json:"date,omitempty"`
	Checkbox     bool          `json:"checkbox,omitempty"`
	URL          *string       `json:"url,omitempty"`
	LastEditedBy *User         `json:"last_edited_by,omitempty"`
}

// MarshalJSON writes only the value keyed by the property type so that
// false checkboxes and null urls/selects/dates are sent explicitly.
func (p PropertyValue) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": p.Type}
	switch p.Type {
	case TypeTitle:
		out[TypeTitle] = nonNilText(p.Title)
	case TypeRichText:
		out[TypeRichText] = nonNilText(p.RichText)
	case TypeSelect:
		out[TypeSelect] = p.Select
	case TypeDate:
		out[TypeDate] = p.Date
	case TypeCheckbox:
		out[TypeCheckbox] = p.Checkbox
	case TypeURL:
		out[TypeURL] = p.URL
	case TypeLastEditedBy:
		out[TypeLastEditedBy] = p.LastEditedBy
	}
	return json.Marshal(out)
}

func nonNilText(t []RichText) []RichText {
	if t == nil {
		return []RichText{}
	}
	return t
}

// Parent identifies the database a page belongs to
type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
}

// Page is a database row
type Page struct {
	Object         string                   `json:"object,omitempty"`
	ID             string                   `json:"id"`
	CreatedTime    time.Time                `json:"created_time"`
	LastEditedTime time.Time                `json:"last_edited_time"`
	LastEditedBy   *User                    `json:"last_edited_by,omitempty"`
	Archived       bool                     `json:"archived"`
	URL            string                   `json:"url,omitempty"`
	Parent         *Parent                  `json:"parent,omitempty"`
	Properties     map[string]PropertyValue `json:"properties"`
}

// PropertyByID finds a property value by its id. Page properties are keyed by name.
func (p *Page) PropertyByID(id string) (PropertyValue, bool) {
	if id == "" {
		return PropertyValue{}, false
	}
	for _, prop := range p.Properties {
		if prop.ID == id {
			return prop, true
		}
	}
	return PropertyValue{}, false
}

// SelectSchema holds the options of a select property
type SelectSchema struct {
	Options []SelectOption `json:"options"`
}

// PropertySchema is the definition of one database property
type PropertySchema struct {
	ID     string        `json:"id,omitempty"`
	Name   string        `json:"name,omitempty"`
	Type   string        `json:"type"`
	Select *SelectSchema `json:"select,omitempty"`
}

// MarshalJSON writes the update form {"name": ..., "<type>": {...}}
func (s PropertySchema) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if s.Name != "" {
		out["name"] = s.Name
	}
	if s.Type == TypeSelect && s.Select != nil {
		out[TypeSelect] = s.Select
	} else if s.Type != "" {
		out[s.Type] = struct{}{}
	}
	return json.Marshal(out)
}

// Database is a Notion database with its schema
type Database struct {
	Object     string                    `json:"object,omitempty"`
	ID         string                    `json:"id"`
	Title      []RichText                `json:"title,omitempty"`
	Properties map[string]PropertySchema `json:"properties"`
}

// PropertyByID finds a schema property by id
func (d *Database) PropertyByID(id string) (PropertySchema, bool) {
	for name, prop := range d.Properties {
		if prop.ID == id {
			if prop.Name == "" {
				prop.Name = name
			}
			return prop, true
		}
	}
	return PropertySchema{}, false
}

// CreatePageRequest is the body of a page create call
type CreatePageRequest struct {
	Parent     Parent                   `json:"parent"`
	Properties map[string]PropertyValue `json:"properties"`
}

// UpdatePageRequest is the body of a page update call
type UpdatePageRequest struct {
	Properties map[string]PropertyValue `json:"properties,omitempty"`
	Archived   *bool                    `json:"archived,omitempty"`
}

// UpdateDatabaseRequest is the body of a database update call
type UpdateDatabaseRequest struct {
	Properties map[string]PropertySchema `json:"properties"`
}

// Sort orders query results
type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"`
}

// QueryRequest is the body of a database query
type QueryRequest struct {
	Filter      *Filter `json:"filter,omitempty"`
	Sorts       []Sort  `json:"sorts,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
}

// QueryResponse is one page of query results
type QueryResponse struct {
	Results    []Page  `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}
