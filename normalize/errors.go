package normalize

import (
	"errors"
	"fmt"
)

// ErrMapperNotFound indicates no mapper is registered for a provider key.
var ErrMapperNotFound = errors.New("no mapper registered")

// SchemaError reports the first raw item in a batch that could not be
// mapped into a valid Item. The whole batch is rejected.
type SchemaError struct {
	Provider string
	Index    int
	Field    string
	Reason   string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalize %s: item %d: field %s: %s", e.Provider, e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("normalize %s: item %d: %s", e.Provider, e.Index, e.Reason)
}
