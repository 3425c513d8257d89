package allocator

import (
	"errors"
	"fmt"
)

// Allocator error types.
var (
	// ErrSpaceExhausted means every ID in [1, 65535] is currently claimed.
	ErrSpaceExhausted = errors.New("instance ID space exhausted")
)

// ForeignRecordError reports a record in the shared namespace whose name is
// not a canonical instance ID. The namespace is owned exclusively by this
// protocol, so foreign data means corruption and acquisition must not
// proceed.
type ForeignRecordError struct {
	Name string
}

func (e *ForeignRecordError) Error() string {
	return fmt.Sprintf("foreign record %q in namespace", e.Name)
}
