// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor implements the api.Poller event demultiplexer: epoll
// on Linux with an eventfd wake channel for cross-thread interruption.
// Other platforms get a stub that fails with api.ErrNotSupported.
package reactor
