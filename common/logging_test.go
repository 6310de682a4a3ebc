package common

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// TestOutputSplitter_ErrorToStderr tests that error messages go to stderr
func TestOutputSplitter_ErrorToStderr(t *testing.T) {
	// os.Stdout and os.Stderr are swapped for pipes so each case can check
	// which stream received the message.

	splitter := &OutputSplitter{}

	tests := []struct {
		name          string
		logMessage    []byte
		expectStderr  bool
	}{
		{
			name:         "ErrorLevel",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=error msg="Database connection failed"`),
			expectStderr: true,
		},
		{
			name:         "InfoLevel",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=info msg="Service started"`),
			expectStderr: false,
		},
		{
			name:         "WarnLevel",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=warning msg="High memory usage"`),
			expectStderr: false,
		},
		{
			name:         "DebugLevel",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=debug msg="Processing request"`),
			expectStderr: false,
		},
		{
			name:         "ErrorInMessage",
			logMessage:   []byte(`time="2024-01-15T10:30:00Z" level=info msg="error occurred but not error level"`),
			expectStderr: false,
		},
		{
			name:         "EmptyMessage",
			logMessage:   []byte(``),
			expectStderr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origOut, origErr := os.Stdout, os.Stderr
			outR, outW, _ := os.Pipe()
			errR, errW, _ := os.Pipe()
			os.Stdout, os.Stderr = outW, errW
			n, err := splitter.Write(tt.logMessage)
			outW.Close()
			errW.Close()
			os.Stdout, os.Stderr = origOut, origErr
			gotOut, _ := io.ReadAll(outR)
			gotErr, _ := io.ReadAll(errR)

			assert.NoError(t, err)
			assert.Equal(t, len(tt.logMessage), n)
			if tt.expectStderr {
				assert.Equal(t, string(tt.logMessage), string(gotErr))
				assert.Empty(t, gotOut)
			} else {
				assert.Equal(t, string(tt.logMessage), string(gotOut))
				assert.Empty(t, gotErr)
			}
		})
	}
}

// TestOutputSplitter_WriteReturnsLength tests Write returns correct length
func TestOutputSplitter_WriteReturnsLength(t *testing.T) {
	splitter := &OutputSplitter{}

	tests := []struct {
		name    string
		message []byte
	}{
		{
			name:    "ShortMessage",
			message: []byte("short"),
		},
		{
			name:    "LongMessage",
			message: []byte("This is a very long log message that contains multiple words and should still be written correctly to the output stream"),
		},
		{
			name:    "EmptyMessage",
			message: []byte(""),
		},
		{
			name:    "WithNewlines",
			message: []byte("Line 1\nLine 2\nLine 3\n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := splitter.Write(tt.message)
			assert.NoError(t, err)
			assert.Equal(t, len(tt.message), n)
		})
	}
}

// TestOutputSplitter_BytePatternMatching tests the pattern matching logic
func TestOutputSplitter_BytePatternMatching(t *testing.T) {
	splitter := &OutputSplitter{}

	// Test that the pattern matching works correctly
	errorPatterns := [][]byte{
		[]byte("level=error"),
		[]byte("level=error msg=\"test\""),
		[]byte("prefix level=error suffix"),
		[]byte("...level=error..."),
	}

	for i, pattern := range errorPatterns {
		n, err := splitter.Write(pattern)
		assert.NoError(t, err, "Pattern %d failed", i)
		assert.Equal(t, len(pattern), n, "Pattern %d returned wrong length", i)
		assert.True(t, bytes.Contains(pattern, []byte("level=error")))
	}

	nonErrorPatterns := [][]byte{
		[]byte("level=info"),
		[]byte("level=warning"),
		[]byte("level=debug"),
		[]byte("error in message but level=info"),
		[]byte("LEVEL=ERROR"), // Different case
	}

	for i, pattern := range nonErrorPatterns {
		n, err := splitter.Write(pattern)
		assert.NoError(t, err, "Non-error pattern %d failed", i)
		assert.Equal(t, len(pattern), n, "Non-error pattern %d returned wrong length", i)
		assert.False(t, bytes.Contains(pattern, []byte("level=error")))
	}
}

// TestOutputSplitter_ConcurrentWrites tests concurrent writes
func TestOutputSplitter_ConcurrentWrites(t *testing.T) {
	splitter := &OutputSplitter{}

	// Test concurrent writes don't cause issues
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(id int) {
			message := []byte("Concurrent message from goroutine")
			n, err := splitter.Write(message)
			assert.NoError(t, err)
			assert.Equal(t, len(message), n)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

// TestNewLogger_UsesOutputSplitter verifies NewLogger wires the splitter.
func TestNewLogger_UsesOutputSplitter(t *testing.T) {
	logger := NewLogger(DefaultLoggerConfig())
	assert.NotNil(t, logger)
	_, ok := logger.Out.(*OutputSplitter)
	assert.True(t, ok, "logger should use OutputSplitter")
}

// TestNewLogger_AppliesLevelAndFormat verifies LoggerConfig is honored.
func TestNewLogger_AppliesLevelAndFormat(t *testing.T) {
	logger := NewLogger(LoggerConfig{Level: LogLevelDebug, Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "logger should use JSONFormatter")
}

// TestServiceEntry_TagsServiceField verifies the service field is attached.
func TestServiceEntry_TagsServiceField(t *testing.T) {
	logger := NewLogger(DefaultLoggerConfig())
	entry := ServiceEntry(logger, LoggerConfig{Service: "workflow-engine"})
	assert.Equal(t, "workflow-engine", entry.Data["service"])
}

// BenchmarkOutputSplitter_Write benchmarks the Write method
func BenchmarkOutputSplitter_Write(b *testing.B) {
	splitter := &OutputSplitter{}
	message := []byte(`time="2024-01-15T10:30:00Z" level=info msg="Benchmark message"`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		splitter.Write(message)
	}
}

// BenchmarkOutputSplitter_WriteError benchmarks error message writes
func BenchmarkOutputSplitter_WriteError(b *testing.B) {
	splitter := &OutputSplitter{}
	message := []byte(`time="2024-01-15T10:30:00Z" level=error msg="Benchmark error message"`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		splitter.Write(message)
	}
}
