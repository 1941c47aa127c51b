package domain

import "sort"

// FieldAccessor extracts one attribute from a lead. Optional timestamps are
// returned as nil when unset so that is_null style predicates work.
type FieldAccessor func(l *Lead) any

// LeadFields is the allow-list of attributes that rules and custom score
// expressions may read. Field names not listed here resolve to nothing.
var LeadFields = map[string]FieldAccessor{
	"id":             func(l *Lead) any { return l.ID },
	"user_id":        func(l *Lead) any { return l.UserID },
	"name":           func(l *Lead) any { return l.Name },
	"email":          func(l *Lead) any { return l.Email },
	"phone":          func(l *Lead) any { return l.Phone },
	"company":        func(l *Lead) any { return l.Company },
	"position":       func(l *Lead) any { return l.Position },
	"status":         func(l *Lead) any { return string(l.Status) },
	"source":         func(l *Lead) any { return string(l.Source) },
	"score":          func(l *Lead) any { return l.Score },
	"activity_count": func(l *Lead) any { return l.ActivityCount },
	"tags":           func(l *Lead) any { return l.Tags },
	"created_at":     func(l *Lead) any { return l.CreatedAt },
	"updated_at":     func(l *Lead) any { return l.UpdatedAt },

	"first_contact_at": func(l *Lead) any {
		if l.FirstContactAt == nil {
			return nil
		}
		return *l.FirstContactAt
	},
	"last_activity_at": func(l *Lead) any {
		if l.LastActivityAt == nil {
			return nil
		}
		return *l.LastActivityAt
	},
}

// Field resolves a named attribute through LeadFields. The second result is
// false for names outside the allow-list.
func (l *Lead) Field(name string) (any, bool) {
	fn, ok := LeadFields[name]
	if !ok {
		return nil, false
	}
	return fn(l), true
}

// FieldNames lists the allow-listed lead attributes in sorted order.
func FieldNames() []string {
	names := make([]string, 0, len(LeadFields))
	for name := range LeadFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
