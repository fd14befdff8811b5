package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Success(t *testing.T) {
	props := map[string]Property{
		"name":  {Type: "string"},
		"age":   {Type: "integer"},
		"tags":  {Type: "array", Items: "string"},
		"level": {Type: "string", Enum: []string{"low", "high"}},
	}
	params := map[string]any{
		"name":  "alice",
		"age":   float64(30), // JSON numbers decode to float64
		"tags":  []any{"a", "b"},
		"level": "low",
	}
	errs := Validate(params, props, []string{"name"})
	assert.Empty(t, errs)
}

func TestValidate_MissingRequired(t *testing.T) {
	props := map[string]Property{"name": {Type: "string"}}
	errs := Validate(map[string]any{}, props, []string{"name"})
	require.Len(t, errs, 1)
	assert.Equal(t, "name", errs[0].Field)
	assert.Contains(t, errs[0].Message, "required")
}

func TestValidate_TypeMismatchReportsAllFields(t *testing.T) {
	props := map[string]Property{
		"users": {Type: "array", Items: "string"},
		"count": {Type: "integer"},
	}
	params := map[string]any{
		"users": "alice", // should be an array
		"count": "three", // should be an integer
	}
	errs := Validate(params, props, nil)
	require.Len(t, errs, 2)
	fields := []string{errs[0].Field, errs[1].Field}
	assert.ElementsMatch(t, []string{"users", "count"}, fields)
}

func TestValidate_EnumViolation(t *testing.T) {
	props := map[string]Property{"level": {Type: "string", Enum: []string{"low", "high"}}}
	errs := Validate(map[string]any{"level": "medium"}, props, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "enum")
}

func TestValidate_ExtraFieldsTolerated(t *testing.T) {
	props := map[string]Property{"name": {Type: "string"}}
	errs := Validate(map[string]any{"name": "x", "extra": 1}, props, nil)
	assert.Empty(t, errs)
}

func TestMatchesType(t *testing.T) {
	assert.True(t, MatchesType("s", "string"))
	assert.False(t, MatchesType(1, "string"))

	assert.True(t, MatchesType(float64(3), "integer"))
	assert.False(t, MatchesType(float64(3.5), "integer"))
	assert.True(t, MatchesType(7, "integer"))

	assert.True(t, MatchesType(3.5, "number"))
	assert.True(t, MatchesType(3, "number"))
	assert.False(t, MatchesType("3", "number"))

	assert.True(t, MatchesType(true, "boolean"))
	assert.True(t, MatchesType([]any{"a"}, "array"))
	assert.True(t, MatchesType([]string{"a"}, "array"))
	assert.False(t, MatchesType("a", "array"))
	assert.True(t, MatchesType(map[string]any{}, "object"))

	assert.True(t, MatchesType(nil, "string"))
	assert.True(t, MatchesType("anything", "custom"), "unknown type names are assumed valid")
}

type leaveRequest struct {
	Employee string `json:"employee" description:"Employee name"`
	Days     int    `json:"days"`
	Reason   string `json:"reason,omitempty"`
	Approver *string
}

func TestPropertiesFromStruct(t *testing.T) {
	props, required := PropertiesFromStruct(leaveRequest{})

	assert.Contains(t, props, "employee")
	assert.Equal(t, "string", props["employee"].Type)
	assert.Equal(t, "Employee name", props["employee"].Description)
	assert.Equal(t, "integer", props["days"].Type)
	assert.ElementsMatch(t, []string{"employee", "days"}, required,
		"omitempty and pointer fields are optional")
}
