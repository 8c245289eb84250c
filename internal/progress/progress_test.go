package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gittest/gittest/internal/model"
)

func TestSelectSymbolsUnicode(t *testing.T) {
	symbols := SelectSymbols(TerminalCapabilities{SupportsUnicode: true})
	assert.Equal(t, "✓", symbols.Checkmark)
	assert.Equal(t, "✗", symbols.Failure)
	assert.Equal(t, 14, symbols.SpinnerSet)
}

func TestSelectSymbolsASCII(t *testing.T) {
	symbols := SelectSymbols(TerminalCapabilities{SupportsUnicode: false})
	assert.Equal(t, "[OK]", symbols.Checkmark)
	assert.Equal(t, "[FAIL]", symbols.Failure)
	assert.Equal(t, 9, symbols.SpinnerSet)
}

func TestDetectTerminalCapabilitiesNonTTYDisablesColorAndUnicode(t *testing.T) {
	// go test's stdout is never the controlling terminal, so this is
	// deterministic regardless of the invoking shell.
	caps := DetectTerminalCapabilities()
	assert.False(t, caps.IsTTY)
	assert.False(t, caps.SupportsColor)
	assert.False(t, caps.SupportsUnicode)
	assert.Equal(t, 0, caps.Width)
}

func TestWorkerStatusDonePrintsFinalLineForPassed(t *testing.T) {
	var buf bytes.Buffer
	ws := NewWorkerStatus(&buf, 2)

	ws.Start(0, "deadbeef")
	ws.Done(0, "deadbeef", model.Passed(false, nil, false))

	out := buf.String()
	assert.Contains(t, out, ws.symbols.Checkmark)
	assert.Contains(t, out, "worker 0: deadbeef")
}

func TestWorkerStatusDoneMarksFailureForNonPassedStatus(t *testing.T) {
	var buf bytes.Buffer
	ws := NewWorkerStatus(&buf, 1)

	ws.Start(3, "c0ffee")
	ws.Done(3, "c0ffee", model.Failed(false, 1, false))

	out := buf.String()
	assert.Contains(t, out, ws.symbols.Failure)
	assert.Contains(t, out, "worker 3: c0ffee")
}

func TestWorkerStatusStopAllClearsTrackedSpinners(t *testing.T) {
	var buf bytes.Buffer
	ws := NewWorkerStatus(&buf, 2)

	ws.Start(0, "a")
	ws.Start(1, "b")
	ws.StopAll()

	ws.mu.Lock()
	count := len(ws.spinners)
	ws.mu.Unlock()
	assert.Zero(t, count)
}
