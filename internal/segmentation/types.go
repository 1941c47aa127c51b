// Package segmentation evaluates dynamic segment rules against leads.
//
// A rule is a (field, operator, value) predicate; a segment matches a lead
// when every one of its rules does. Evaluation is pure and total: malformed
// rules, unknown operators and type mismatches all evaluate to false and are
// surfaced through ValidateRules rather than as errors.
package segmentation

import "github.com/ignite/leadscore/internal/domain"

// ==========================================
// FIELD TYPES
// ==========================================

// FieldType classifies lead attributes for operator applicability.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldTags   FieldType = "tags"
)

// LeadFieldTypes maps each allow-listed lead field to its type.
var LeadFieldTypes = map[string]FieldType{
	"id":               FieldString,
	"user_id":          FieldString,
	"name":             FieldString,
	"email":            FieldString,
	"phone":            FieldString,
	"company":          FieldString,
	"position":         FieldString,
	"status":           FieldString,
	"source":           FieldString,
	"score":            FieldNumber,
	"activity_count":   FieldNumber,
	"tags":             FieldTags,
	"created_at":       FieldDate,
	"updated_at":       FieldDate,
	"first_contact_at": FieldDate,
	"last_activity_at": FieldDate,
}

// ==========================================
// OPERATORS
// ==========================================

// OperatorMetadata describes an operator for rule validation and for the
// rule builder in the management layer.
type OperatorMetadata struct {
	Operator        domain.Operator `json:"operator"`
	Label           string          `json:"label"`
	Description     string          `json:"description"`
	ApplicableTypes []FieldType     `json:"applicable_types"`
	RequiresValue   bool            `json:"requires_value"`
	RequiresArray   bool            `json:"requires_array"`
	RequiresRange   bool            `json:"requires_range"`
}

var (
	anyType    = []FieldType{FieldString, FieldNumber, FieldDate, FieldTags}
	ordered    = []FieldType{FieldString, FieldNumber, FieldDate}
	textual    = []FieldType{FieldString}
	listable   = []FieldType{FieldString, FieldNumber, FieldTags}
	emptyable  = []FieldType{FieldString, FieldTags}
	dateFields = []FieldType{FieldDate}
)

// GetOperatorMetadata returns metadata for all supported operators.
func GetOperatorMetadata() []OperatorMetadata {
	return []OperatorMetadata{
		{domain.OpEquals, "Equals", "Exact match", anyType, true, false, false},
		{domain.OpNotEquals, "Does not equal", "Not an exact match", anyType, true, false, false},
		{domain.OpGt, "Greater than", "Value is greater than", ordered, true, false, false},
		{domain.OpGte, "Greater than or equal", "Value is greater than or equal to", ordered, true, false, false},
		{domain.OpLt, "Less than", "Value is less than", ordered, true, false, false},
		{domain.OpLte, "Less than or equal", "Value is less than or equal to", ordered, true, false, false},

		{domain.OpContains, "Contains", "Contains the text", textual, true, false, false},
		{domain.OpNotContains, "Does not contain", "Does not contain the text", textual, true, false, false},
		{domain.OpStartsWith, "Starts with", "Begins with the text", textual, true, false, false},
		{domain.OpEndsWith, "Ends with", "Ends with the text", textual, true, false, false},
		{domain.OpRegex, "Matches pattern", "Matches a regular expression", textual, true, false, false},

		{domain.OpIn, "Is one of", "Value is in the list", listable, false, true, false},
		{domain.OpNotIn, "Is none of", "Value is not in the list", listable, false, true, false},

		{domain.OpIsNull, "Is null", "Value is missing", anyType, false, false, false},
		{domain.OpIsNotNull, "Is not null", "Value exists", anyType, false, false, false},
		{domain.OpIsEmpty, "Is empty", "Value is missing or blank", emptyable, false, false, false},
		{domain.OpIsNotEmpty, "Is not empty", "Value is present and not blank", emptyable, false, false, false},

		{domain.OpDateEquals, "On date", "Same calendar day", dateFields, true, false, false},
		{domain.OpDateAfter, "After date", "Strictly after the instant", dateFields, true, false, false},
		{domain.OpDateBefore, "Before date", "Strictly before the instant", dateFields, true, false, false},
		{domain.OpDateBetween, "Between dates", "Within the range, bounds included", dateFields, false, false, true},
	}
}

func getOperatorMeta(op domain.Operator) *OperatorMetadata {
	for _, meta := range GetOperatorMetadata() {
		if meta.Operator == op {
			return &meta
		}
	}
	return nil
}

// GetAvailableOperators returns operators available for a field type.
func GetAvailableOperators(fieldType FieldType) []OperatorMetadata {
	var operators []OperatorMetadata
	for _, meta := range GetOperatorMetadata() {
		for _, ft := range meta.ApplicableTypes {
			if ft == fieldType {
				operators = append(operators, meta)
				break
			}
		}
	}
	return operators
}
