package main

import (
	"errors"
	"os"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/constants"
	"github.com/loykin/ch2migrate/internal/migerr"
)

// ExitHandler provides a testable way to handle program termination
type ExitHandler interface {
	Exit(code int)
	LogFatalError(err error, msg string, keyvals ...any)
}

// DefaultExitHandler implements ExitHandler for production use
type DefaultExitHandler struct {
	logger *common.Logger
	exit   func(code int)
}

// NewDefaultExitHandler creates a new default exit handler
func NewDefaultExitHandler() *DefaultExitHandler {
	return &DefaultExitHandler{}
}

// Exit terminates the program with the given exit code
func (h *DefaultExitHandler) Exit(code int) {
	if h.exit != nil {
		h.exit(code)
		return
	}
	os.Exit(code)
}

// LogFatalError logs err and exits with the code of its failure class
func (h *DefaultExitHandler) LogFatalError(err error, msg string, keyvals ...any) {
	logger := h.logger
	if logger == nil {
		// resolved late so the configured logger is used
		logger = common.GetLogger().WithComponent("main")
	}
	code := exitCode(err)
	allKeyvals := append([]any{"error", err, "exit_code", code}, keyvals...)
	logger.Error(msg, allKeyvals...)
	h.Exit(code)
}

// configError marks bad flags, config files or settings.
type configError struct {
	err error
}

func (e *configError) Error() string { return "configuration: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }
func (e *configError) ExitCode() int { return constants.ExitConfig }

func newConfigError(err error) error {
	if err == nil {
		return nil
	}
	var ce *configError
	if errors.As(err, &ce) {
		return err
	}
	return &configError{err: err}
}

// exitCode maps err onto the process exit status.
func exitCode(err error) int {
	return migerr.ExitCode(err)
}

// Global exit handler (can be replaced for testing)
var exitHandler ExitHandler = NewDefaultExitHandler()
