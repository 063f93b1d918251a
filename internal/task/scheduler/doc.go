// Package scheduler arms one recurring trigger per eligible reservation
// target and turns each trigger into a tick on the tick runner.
//
// Per target id the states are Unscheduled, Scheduled, Firing and Removed.
// The scheduler never changes target membership; it reads the campaign
// store and reacts to its change hook. Triggers carry a job version so a
// trigger that was already pending when its job got replaced or removed is
// ignored.
package scheduler
