package kwtesting

import (
	"testing"
	"time"
)

// Eventually polls condition every interval until it returns true or the
// timeout elapses, then fails the test with the optional message and the
// time spent waiting.
func Eventually(t testing.TB, timeout, interval time.Duration, condition func() bool, msg ...string) {
	t.Helper()
	start := time.Now()
	for !condition() {
		if time.Since(start) > timeout {
			m := "condition not met"
			if len(msg) > 0 && msg[0] != "" {
				m = msg[0]
			}
			t.Fatalf("%s (waited %v)", m, timeout)
		}
		time.Sleep(interval)
	}
}
