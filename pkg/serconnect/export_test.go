// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serconnect

// PortErrorKind exposes the port error mapping to external tests
var PortErrorKind = portErrorKind
