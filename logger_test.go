package trackstream_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gokit/trackstream"
)

func TestLogEventBuilder(t *testing.T) {
	msg := trackstream.LogMsg("op failed").
		String("id", "sub-1").
		Int("attempts", 3).
		Bool("terminal", true).
		Error("error", errors.New("boom")).
		Write()

	assert.Equal(t, `{"message": "op failed", "id": "sub-1", "attempts": 3, "terminal": true, "error": "boom"}`, msg.Message())
}

func TestLogEventSkipsNilError(t *testing.T) {
	msg := trackstream.LogMsg("ok").Error("error", nil).Write()
	assert.Equal(t, `{"message": "ok"}`, msg.Message())
}

func TestLogEventReuse(t *testing.T) {
	first := trackstream.LogMsg("one").Write()
	second := trackstream.LogMsg("two").Int64("n", 12).Write()

	assert.Equal(t, `{"message": "one"}`, first.Message())
	assert.Equal(t, `{"message": "two", "n": 12}`, second.Message())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "INFO", trackstream.INFO.String())
	assert.Equal(t, "DEBUG", trackstream.DEBUG.String())
	assert.Equal(t, "WARN", trackstream.WARN.String())
	assert.Equal(t, "ERROR", trackstream.ERROR.String())
	assert.Equal(t, "PANIC", trackstream.PANIC.String())
}
