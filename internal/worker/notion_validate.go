package worker

import (
	"fmt"
	"slices"
	"sort"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

var (
	requiredProps   = []string{db.PropTitle, db.PropCalendar, db.PropDate, db.PropDelete, db.PropLink, db.PropLastEditedBy}
	additionalProps = []string{db.PropLocation, db.PropDescription}
	restorableProps = []string{db.PropDelete, db.PropLastEditedBy, db.PropLink, db.PropLocation, db.PropDescription}
)

// propTypes is the Notion type each mapped property must have
var propTypes = map[string]string{
	db.PropTitle:        notion.TypeTitle,
	db.PropCalendar:     notion.TypeSelect,
	db.PropDate:         notion.TypeDate,
	db.PropDelete:       notion.TypeCheckbox,
	db.PropLink:         notion.TypeURL,
	db.PropDescription:  notion.TypeRichText,
	db.PropLocation:     notion.TypeRichText,
	db.PropLastEditedBy: notion.TypeLastEditedBy,
}

// DiscrepancyKind classifies a schema problem
type DiscrepancyKind string

const (
	PropNotMapped DiscrepancyKind = "prop_not_exist"
	PropNotFound  DiscrepancyKind = "prop_not_found"
	PropWrongType DiscrepancyKind = "wrong_prop_type"
)

// Discrepancy is one difference between the stored mapping and the database schema
type Discrepancy struct {
	Kind       DiscrepancyKind
	Prop       string
	PropertyID string
	Expected   string
	Actual     string
	Restorable bool
}

func (d Discrepancy) String() string {
	switch d.Kind {
	case PropNotMapped:
		return fmt.Sprintf("%s: required property %s is not mapped", d.Kind, d.Prop)
	case PropNotFound:
		return fmt.Sprintf("%s: property %s not found (id: %s)", d.Kind, d.Prop, d.PropertyID)
	default:
		return fmt.Sprintf("%s: property %s has type %s, expected %s", d.Kind, d.Prop, d.Actual, d.Expected)
	}
}

// ValidateSchema compares the property mapping with the database schema.
// Additional props are checked only when syncAdditional is set.
// Missing or deleted restorable props are reported as Restorable.
func ValidateSchema(props db.NotionProps, database *notion.Database, syncAdditional bool) []Discrepancy {
	var out []Discrepancy
	reported := map[string]bool{}

	expected := slices.Clone(requiredProps)
	if syncAdditional {
		expected = append(expected, additionalProps...)
	}
	for _, prop := range expected {
		if props[prop] != "" {
			continue
		}
		reported[prop] = true
		out = append(out, Discrepancy{
			Kind:       PropNotMapped,
			Prop:       prop,
			Expected:   propTypes[prop],
			Restorable: slices.Contains(restorableProps, prop),
		})
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, prop := range keys {
		id := props[prop]
		if id == "" || reported[prop] {
			continue
		}
		if slices.Contains(additionalProps, prop) && !syncAdditional {
			continue
		}
		schema, ok := database.PropertyByID(id)
		if !ok {
			out = append(out, Discrepancy{
				Kind:       PropNotFound,
				Prop:       prop,
				PropertyID: id,
				Expected:   propTypes[prop],
				Restorable: slices.Contains(restorableProps, prop),
			})
			continue
		}
		if want, known := propTypes[prop]; known && schema.Type != want {
			out = append(out, Discrepancy{
				Kind:       PropWrongType,
				Prop:       prop,
				PropertyID: id,
				Expected:   want,
				Actual:     schema.Type,
			})
		}
	}
	return out
}

// freePropName returns name, or "name (n)" for the first n that is not taken
func freePropName(database *notion.Database, name string) string {
	if _, taken := database.Properties[name]; !taken {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)", name, i)
		if _, taken := database.Properties[candidate]; !taken {
			return candidate
		}
	}
}
