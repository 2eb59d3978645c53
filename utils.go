package trackstream

import (
	"bytes"
	"runtime"
	"strconv"
)

//****************************************************************
// Internal functions
//****************************************************************

var goroutinePrefix = []byte("goroutine ")

// goid returns the id of the calling goroutine, parsed out of the
// runtime stack header. Used only to verify "am I on this scheduler"
// preconditions, never for synchronization.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	header := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if sp := bytes.IndexByte(header, ' '); sp > 0 {
		if id, err := strconv.ParseInt(string(header[:sp]), 10, 64); err == nil {
			return id
		}
	}
	return -1
}
