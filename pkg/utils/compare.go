package utils

import (
	"slices"

	"github.com/nats-io/nats.go"
)

// StreamConfigEqual reports whether the settings a stream is provisioned
// with match. Fields the server fills in (replicas, placement) are ignored.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.Storage == b.Storage &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		a.Duplicates == b.Duplicates &&
		slices.Equal(a.Subjects, b.Subjects)
}
