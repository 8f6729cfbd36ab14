// Package ids generates the identifiers used as primary keys for
// challenge, invitation and refresh-token rows.
package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier. ULIDs encode the
// creation time in the prefix, which keeps index pages warm for recent rows.
func New() string {
	return ulid.Make().String()
}
