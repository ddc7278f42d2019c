// Package arm owns motion safety and control for a multi-joint arm.
//
// Ownership boundary:
// - channel state and its transitions
// - safety policy enforcement and the emergency stop latch
// - movement watchdogs
// - the control API surface
//
// Hardware access goes through actuation drivers; arm never talks to
// a bus directly.
package arm
