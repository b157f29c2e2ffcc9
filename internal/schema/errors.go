package schema

import "fmt"

// UnknownTypeError is returned when a request names an entity type the schema
// document does not define.
type UnknownTypeError struct {
	EntityType string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown entity type: %s", e.EntityType)
}

// ValidationError aggregates every offending key of a single failed
// validation category.
type ValidationError struct {
	Category string
	Keys     []string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Category, joinKeys(e.Keys))
}
