// Package masterid generates the textual identity a coordinator process
// uses to contend for the leader lease and to tag its log lines.
package masterid

import "github.com/google/uuid"

// New returns a fresh random masterID, one per coordinator process
// lifetime.
func New() string {
	return uuid.New().String()
}
