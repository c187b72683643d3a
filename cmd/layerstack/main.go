package main

import (
	"log/slog"
	"os"

	"github.com/fly-io/layerstack/cmd/layerstack/commands"
)

func main() {
	// Text logs on stderr; the level is raised or lowered once config is loaded
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	commands.Execute(level)
}
