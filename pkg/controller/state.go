// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

// State is the connection state of a Controller
type State int

// Controller states
const (
	StateDisconnected State = iota
	StateProbing
	StateValidating
	StateConnected
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateProbing:
		return "PROBING"
	case StateValidating:
		return "VALIDATING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}
