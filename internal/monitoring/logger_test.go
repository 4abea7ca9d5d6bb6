package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("hello %d", 42)
	if got != "hello 42" {
		t.Errorf("Logf wrote %q, want %q", got, "hello 42")
	}

	// nil installs a no-op sink rather than panicking
	SetLogger(nil)
	Logf("should not panic")
}

func TestDebugfRespectsVerbosity(t *testing.T) {
	defer SetLogger(nil)
	defer func() { Verbosity = 0 }()

	var calls int
	SetLogger(func(format string, v ...interface{}) { calls++ })

	Verbosity = 0
	Debugf("quiet")
	if calls != 0 {
		t.Errorf("Debugf logged at verbosity 0")
	}

	Verbosity = 1
	Debugf("loud")
	if calls != 1 {
		t.Errorf("Debugf calls = %d, want 1", calls)
	}
}
