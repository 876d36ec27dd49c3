package domain

import "time"

// Record is one telemetry record: arbitrary fields keyed by name.
type Record map[string]interface{}

// Entry is a record together with the tag and time the caller associated with it.
type Entry struct {
	Tag    string
	Time   time.Time
	Record Record
}

// Emission is an ordered sequence of entries handed to the router in one call.
type Emission []Entry

