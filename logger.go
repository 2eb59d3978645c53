package trackstream

import (
	"strconv"
	"sync"
)

//***************************************************************************
// Levels
//***************************************************************************

// Level defines different level warnings for giving log events.
type Level uint8

// constants of log levels this package respects. They are capitalized
// to ensure no naming conflict.
const (
	INFO Level = 1 << iota
	DEBUG
	WARN
	ERROR
	PANIC
)

// String implements the Stringer interface.
func (l Level) String() string {
	switch l {
	case INFO:
		return "INFO"
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case PANIC:
		return "PANIC"
	}
	return "UNKNOWN"
}

//***************************************************************************
// Logs
//***************************************************************************

// LogMessage defines an interface which exposes a method for retrieving
// log details for giving log item.
type LogMessage interface {
	Message() string
}

// Logs defines an acceptable logging interface which all elements and sub
// packages will respect and use to deliver logs for different parts and
// ops. This frees the package from locking a given implementation and
// contaminating import paths. Implement this and pass it in to elements
// that provide for it.
type Logs interface {
	Emit(Level, LogMessage)
}

// Message implements the LogMessage interface for a plain string.
type Message string

// Message returns the underline string.
func (m Message) Message() string {
	return string(m)
}

//*****************************************************************
// DrainLog
//*****************************************************************

// DrainLog implements the trackstream.Logs interface.
type DrainLog struct{}

// Emit does nothing with provided arguments, it implements
// trackstream.Logs Emit method.
func (DrainLog) Emit(_ Level, _ LogMessage) {}

//*****************************************************************
// LogEvent
//*****************************************************************

var logEventPool = sync.Pool{
	New: func() interface{} {
		return &LogEvent{content: make([]byte, 0, 256)}
	},
}

// LogEvent builds a structured log message out of key-value pairs in a
// non-strict json format. Events come from an internal pool and must
// have their Write method called exactly once when done.
type LogEvent struct {
	content []byte
}

// LogMsg requests a LogEvent from the internal pool, seeded with the
// giving message field.
func LogMsg(message string) *LogEvent {
	event := logEventPool.Get().(*LogEvent)
	event.content = append(event.content[:0], '{')
	return event.quoted("message", message)
}

// String adds a field name with string value.
func (l *LogEvent) String(name string, value string) *LogEvent {
	return l.quoted(name, value)
}

// Int adds a field name with int value.
func (l *LogEvent) Int(name string, value int) *LogEvent {
	return l.raw(name, strconv.Itoa(value))
}

// Int64 adds a field name with int64 value.
func (l *LogEvent) Int64(name string, value int64) *LogEvent {
	return l.raw(name, strconv.FormatInt(value, 10))
}

// Bool adds a field name with bool value.
func (l *LogEvent) Bool(name string, value bool) *LogEvent {
	return l.raw(name, strconv.FormatBool(value))
}

// Error adds a field name with the error's message, or skips the field
// for a nil error.
func (l *LogEvent) Error(name string, err error) *LogEvent {
	if err == nil {
		return l
	}
	return l.quoted(name, err.Error())
}

// Write seals the event and returns it as a LogMessage, releasing the
// event back to the pool.
func (l *LogEvent) Write() LogMessage {
	// drop trailing comma and space before closing.
	if n := len(l.content); n >= 2 && l.content[n-1] == ' ' {
		l.content = l.content[:n-2]
	}
	l.content = append(l.content, '}')

	msg := Message(l.content)
	l.content = l.content[:0]
	logEventPool.Put(l)
	return msg
}

func (l *LogEvent) quoted(k string, v string) *LogEvent {
	l.key(k)
	l.content = append(l.content, '"')
	l.content = append(l.content, v...)
	l.content = append(l.content, '"')
	return l.endEntry()
}

func (l *LogEvent) raw(k string, v string) *LogEvent {
	l.key(k)
	l.content = append(l.content, v...)
	return l.endEntry()
}

func (l *LogEvent) key(k string) {
	l.content = append(l.content, '"')
	l.content = append(l.content, k...)
	l.content = append(l.content, '"', ':', ' ')
}

func (l *LogEvent) endEntry() *LogEvent {
	l.content = append(l.content, ',', ' ')
	return l
}
