// Package trigger converts user-chosen fire times into validated delays.
//
// Everything here is pure: the caller passes "now" explicitly and nothing
// touches the network, the store or a timer. The scheduling adapter and the
// lifecycle manager both run ComputeDelay before a timer is armed, so a
// non-future trigger never reaches a backend.
package trigger
