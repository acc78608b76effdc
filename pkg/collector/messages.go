package collector

import "github.com/unklstewy/ads-trace/pkg/trace"

// Message is a request handled by the collector loop.
// The set of messages is closed; every implementation lives in this file.
type Message interface {
	isMessage()
}

// Update folds a position sample into the trace for ID, creating it if needed.
type Update struct {
	// ID is the aircraft ICAO hex address
	ID string

	Position trace.Position

	// Timestamp in seconds
	Timestamp float64
}

// Destroy drops the trace for ID.
type Destroy struct {
	ID string
}

// Clean evicts every trace whose last input is older than the stale window relative to Now.
type Clean struct {
	// Now is the caller's current time in seconds, on the same clock as Update timestamps
	Now float64
}

// Get asks for the retained points of ID.
// A TraceReply is sent on Reply only if the trace exists.
type Get struct {
	ID    string
	Reply chan<- TraceReply
}

// Sync is a barrier. Done is closed once every message sent before it has been handled.
type Sync struct {
	Done chan<- struct{}
}

// Stats asks for a snapshot of the collection size.
type Stats struct {
	Reply chan<- Snapshot
}

// TraceReply carries a copy of one trace's retained points.
type TraceReply struct {
	ID     string        `json:"hex"`
	Points []trace.Point `json:"points"`
}

// Snapshot summarises the collection.
type Snapshot struct {
	// Traces is the number of active traces
	Traces int `json:"traces"`

	// Points is the total number of retained points across all traces
	Points int `json:"points"`

	// Handled is the number of messages processed since the loop started
	Handled uint64 `json:"handled"`
}

func (Update) isMessage()  {}
func (Destroy) isMessage() {}
func (Clean) isMessage()   {}
func (Get) isMessage()     {}
func (Sync) isMessage()    {}
func (Stats) isMessage()   {}
