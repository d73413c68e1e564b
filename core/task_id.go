package core

import (
	"strconv"
	"sync/atomic"
)

// TaskID uniquely identifies a task instance. The zero value represents
// "no ID" and is reported by IsZero.
type TaskID uint64

var taskIDCounter atomic.Uint64

// GenerateTaskID returns a new, non-zero TaskID unique within this process.
func GenerateTaskID() TaskID {
	return TaskID(taskIDCounter.Add(1))
}

// IsZero reports whether this TaskID is the zero value.
func (id TaskID) IsZero() bool {
	return id == 0
}

// String returns a human-readable representation of the TaskID.
func (id TaskID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
