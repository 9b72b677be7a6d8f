package cmd

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConsoleWriterRendersErrors(t *testing.T) {
	buffer := strings.Builder{}
	logger := zerolog.New(&ConsoleWriter{out: &buffer})

	logger.Error().Str("step", "compile").Msg("boom")

	require.Contains(t, buffer.String(), "compile: Error: boom")
}

func TestConsoleWriterRendersCommands(t *testing.T) {
	buffer := strings.Builder{}
	logger := zerolog.New(&ConsoleWriter{out: &buffer})

	logger.Info().Str("step", "transpile").Bool("command", true).Msg("cython --embed -o foo.c foo.py")

	require.Contains(t, buffer.String(), "transpile: cython --embed -o foo.c foo.py")
}

func TestConsoleWriterIgnoresNonStringStep(t *testing.T) {
	buffer := strings.Builder{}
	logger := zerolog.New(&ConsoleWriter{out: &buffer})

	logger.Info().Int("step", 3).Msg("still rendered")

	out := buffer.String()
	require.Contains(t, out, "still rendered")
	require.NotContains(t, out, "3:")
}

func TestConsoleWriterRejectsGarbage(t *testing.T) {
	writer := &ConsoleWriter{out: &strings.Builder{}}

	_, err := writer.Write([]byte("not json"))
	require.Error(t, err)
}
