package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/webplane/cmd/webplane/commands"
	"github.com/openfroyo/webplane/pkg/errdefs"
)

// Build information, set with
// -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes. Scripts driving webplane exec tell a rejected operation from a
// failed runtime stage by these.
const (
	exitOK = iota
	exitFailure
	exitModel
	exitSecurity
	exitRuntime
	exitRollback
	exitInterrupted = 130
)

func main() {
	setupLogging(os.Getenv("WEBPLANE_LOG_LEVEL"))

	// Cancelled on SIGINT/SIGTERM; serve drains and exec rolls back.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, version, commit, date)
	interrupted := ctx.Err() != nil
	stop()

	if err != nil {
		log.Error().Err(err).Str("class", string(errdefs.ClassOf(err))).Msg("webplane failed")
	}
	if interrupted && err != nil {
		os.Exit(exitInterrupted)
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process exit status by its class.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errdefs.ErrRollbackFailed):
		return exitRollback
	}
	switch errdefs.ClassOf(err) {
	case errdefs.ClassModel, errdefs.ClassTransformation:
		return exitModel
	case errdefs.ClassSecurity:
		return exitSecurity
	case errdefs.ClassRuntime:
		return exitRuntime
	}
	return exitFailure
}

// setupLogging points the global logger at stderr for the time before a
// command builds its own telemetry logger from webplane.yaml.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
