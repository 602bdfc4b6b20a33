// Package bus implements the internal event bus for a client instance.
//
// Every client owns a fresh Bus; handler state is never shared across
// instances. Handlers are keyed by event name and receive the raw JSON
// arguments carried by the event. A handler that panics is recovered and
// reported through the bus panic hook so one faulty listener cannot break
// dispatch for the others.
package bus
