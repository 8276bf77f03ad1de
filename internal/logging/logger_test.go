package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_ConsoleLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger("space", &buf)

	l.Debug("не должно попасть в консоль")
	l.Info("палитра сжата: %d записей", 3)
	l.Warn("предупреждение")

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[INFO] [space] палитра сжата: 3 записей")
	assert.Contains(t, out, "[WARN] [space] предупреждение")

	buf.Reset()
	l.SetLevel(DEBUG)
	l.Debug("теперь видно")
	assert.Contains(t, buf.String(), "теперь видно")
}

func TestLogger_NilReceiver(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("ничего")
		l.SetLevel(TRACE)
		assert.False(t, l.Enabled(ERROR))
		assert.NoError(t, l.Close())
	})
}

func TestLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("logs")

	l, err := NewLogger("storage")
	require.NoError(t, err)
	l.consoleLogger.SetOutput(&bytes.Buffer{})
	l.Trace("в файл пишутся все уровни")
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(dir + "/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "в файл пишутся все уровни")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, lvl)

	lvl, err = ParseLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, INFO, lvl, "при ошибке возвращается уровень по умолчанию")
}

func TestLoggerManager_ReusesComponentLoggers(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}
	a := lm.MustGetLogger("block")
	b := lm.MustGetLogger("block")
	assert.Same(t, a, b)
	assert.Equal(t, []string{"block"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel("block", DEBUG, DEBUG))
	assert.Error(t, lm.SetLogLevel("missing", DEBUG, DEBUG))
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}
