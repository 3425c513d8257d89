package allocator

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// recordContent builds the diagnostic payload stored in a claim record:
// newline-separated Key=Value lines. The protocol never reads it back;
// it exists so an operator inspecting the namespace can tell which
// instance holds which slot and since when.
func recordContent(instanceName string, now time.Time) []byte {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "InstanceName=%s\n", instanceName)
	fmt.Fprintf(&b, "HostName=%s\n", host)
	fmt.Fprintf(&b, "CreatedAtUtc=%s\n", now.UTC().Format(time.RFC3339))
	return []byte(b.String())
}
