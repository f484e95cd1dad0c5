package reactor

import (
	"runtime"
)

// getGoroutineID returns the current goroutine's ID, parsed from the header
// of runtime.Stack, e.g. "goroutine 18 [running]:".
// The goroutine owning a System is locked to its OS thread, so this serves
// as the thread identity.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
