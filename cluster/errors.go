package cluster

import "fmt"

// ConfigError reports invalid clustering options. It is returned by Build
// and is not recoverable by retrying.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cluster: invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned when a caller asks about a cluster the index
// does not hold.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cluster: %q not found", e.ID)
}
