// Package instanceid provides the application instance ID value type.
package instanceid

import (
	"fmt"
	"strconv"
)

// ID identifies one live instance of an application among its concurrently
// running peers. Valid IDs occupy [1, Max]; None (0) means "not assigned".
type ID uint16

// ID range boundaries.
const (
	None ID = 0
	Min  ID = 1
	Max  ID = 65535
)

// Parse parses the canonical record-name form of an ID: the plain decimal
// representation, no sign, no leading zeros. Anything else is rejected so
// that foreign names in a shared namespace are detected rather than
// silently coerced.
func Parse(s string) (ID, error) {
	if s == "" {
		return None, fmt.Errorf("empty instance ID")
	}
	if s[0] == '0' || s[0] == '+' || s[0] == '-' {
		return None, fmt.Errorf("invalid instance ID %q", s)
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return None, fmt.Errorf("invalid instance ID %q", s)
	}
	return ID(v), nil
}

// String returns the canonical decimal form, which is also the record name
// under which the ID is claimed.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Valid reports whether the ID lies in the assignable range.
func (id ID) Valid() bool {
	return id >= Min
}
