package internal

import (
	"fmt"
	"time"

	"github.com/gokit/trackstream"
)

// TLog implements the trackstream.Logs interface, printing
// out basic type and value contents with log.
type TLog struct{}

// Emit prints the log event's level and message, it implements
// trackstream.Logs Emit method.
func (TLog) Emit(l trackstream.Level, e trackstream.LogMessage) {
	fmt.Printf("[%s : %s] %s\n", time.Now().Format(time.RFC3339), l, e.Message())
}
