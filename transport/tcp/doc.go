// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp holds the socket and address helpers the reactor builds on: an
// InetAddress value type and a Socket that owns one non-blocking TCP
// descriptor and exposes bind/listen/accept, half-close and option toggles.
package tcp
