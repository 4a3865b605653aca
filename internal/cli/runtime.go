package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/bitstrat/internal/bitmetrics"
	"github.com/roach88/bitstrat/internal/config"
	"github.com/roach88/bitstrat/internal/ops"
	"github.com/roach88/bitstrat/internal/scripthost"
	"github.com/roach88/bitstrat/internal/store"
)

// runtime is the configured operation library and script host shared by
// the commands that execute or re-execute strategies.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	router *ops.Library
	calc   bitmetrics.Calculator
	host   *scripthost.Starlark
}

func (o *RootOptions) runtime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	logger, err := o.Logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	router := ops.Standard()
	if err := cfg.ApplyOperations(router); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	calc := bitmetrics.Standard{}
	host := scripthost.NewStarlark(router, calc,
		scripthost.WithLogger(logger),
		scripthost.WithMaxExecutionSteps(cfg.ScriptMaxSteps),
	)

	return &runtime{cfg: cfg, logger: logger, router: router, calc: calc, host: host}, nil
}

// openStore opens the configured result store.
func (o *RootOptions) openStore(formatter *OutputFormatter) (*store.Store, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to open result store", err)
	}
	return st, nil
}

// compileScripts checks that every loaded script parses and defines run.
func compileScripts(r *LoadResult) []error {
	host := scripthost.NewStarlark(ops.Standard(), bitmetrics.Standard{})
	var errs []error
	for _, s := range r.Scripts {
		if err := host.Compile(s.Name, s.Source); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeScriptCompile, Message: err.Error()})
		}
	}
	return errs
}
