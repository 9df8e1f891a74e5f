// Package trail generates per-request correlation identifiers threaded
// through log lines across the UASTsx/UACTsx fork tree (SPEC_FULL §1,
// "trail reporting").
package trail

import "github.com/google/uuid"

// New returns a fresh trail identifier.
func New() string {
	return uuid.NewString()
}
