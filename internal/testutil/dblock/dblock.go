// Package dblock serializes Postgres integration tests across test binaries.
// go test runs packages in parallel and each package truncates the gateway
// tables it touches, so only one binary may hold the database at a time.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:45432"

// Acquire blocks until this process owns the lock. The lock is a listening
// TCP socket, so it is released even if the test binary crashes.
func Acquire() (release func()) {
	addr := os.Getenv("TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
