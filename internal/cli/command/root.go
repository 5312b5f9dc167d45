package command

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/infra/confloader"
	"github.com/yndnr/meshstore/internal/server/config"
	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/storage/keyring"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitCorrupt  = 4
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "meshstore",
		Usage:   "Content-addressed local record store",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			PutCommand(),
			GetCommand(),
			DeleteCommand(),
			ContainsCommand(),
			ScanCommand(),
			CompactCommand(),
			StatsCommand(),
			VerifyCommand(),
			ServeCommand(),
			VersionCommand(),
			KeygenCommand(),
		},
		// Errors are reported by the caller through ExitCode.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Data directory holding segment files",
			EnvVars: []string{"MESHSTORE_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"MESHSTORE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "durability",
			Usage: "Write durability: sync or buffered",
		},
		&cli.StringFlag{
			Name:  "key-file",
			Usage: "File holding the hex or base64 encryption key",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, jsonl, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	DataDir    string
	ConfigFile string
	Durability string
	KeyFile    string
	Output     output.Format
	Wide       bool
	LogLevel   string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitUsage)
	}
	return &GlobalFlags{
		DataDir:    c.String("data-dir"),
		ConfigFile: c.String("config"),
		Durability: c.String("durability"),
		KeyFile:    c.String("key-file"),
		Output:     format,
		Wide:       c.Bool("wide"),
		LogLevel:   c.String("log-level"),
	}, nil
}

// overrides maps explicitly set flags onto configuration keys.
func (f *GlobalFlags) overrides() map[string]any {
	m := make(map[string]any)
	if f.DataDir != "" {
		m["data_dir"] = f.DataDir
	}
	if f.Durability != "" {
		m["storage.durability"] = f.Durability
	}
	if f.KeyFile != "" {
		m["encryption.key_file"] = f.KeyFile
	}
	if f.LogLevel != "" {
		m["log.level"] = f.LogLevel
	}
	return m
}

// session is the per-invocation state shared by commands.
type session struct {
	flags  *GlobalFlags
	cfg    *config.ServerConfig
	loader *confloader.Loader
	log    logger.Logger
	stdout io.Writer
	stderr io.Writer
}

// newSession loads configuration with the priority defaults < file < env
// < flags and builds the logger. One-shot commands log at warn unless a
// level is given explicitly.
func newSession(c *cli.Context, oneShot bool) (*session, error) {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if oneShot {
		cfg.Log.Level = "warn"
	}
	loader := confloader.NewLoader(
		confloader.WithConfigFile(flags.ConfigFile),
		confloader.WithOverrides(flags.overrides()),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, cli.Exit(err.Error(), ExitUsage)
	}
	if err := config.Verify(cfg); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid configuration: %v", err), ExitUsage)
	}

	stderr := c.App.ErrWriter
	if stderr == nil {
		stderr = os.Stderr
	}
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: stderr,
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitUsage)
	}

	stdout := c.App.Writer
	if stdout == nil {
		stdout = os.Stdout
	}
	return &session{
		flags:  flags,
		cfg:    cfg,
		loader: loader,
		log:    log,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// openEngine opens the engine for the configured data directory,
// unlocking the keyring when encryption is configured.
func (s *session) openEngine(mutate ...func(*storage.Options)) (*storage.Engine, error) {
	opts, err := config.StorageOptions(s.cfg)
	if err != nil {
		return nil, err
	}

	kc, err := config.KeyringConfig(&s.cfg.Encryption)
	if err != nil {
		return nil, err
	}
	cipher, err := keyring.Open(s.cfg.DataDir, kc)
	keyring.ZeroKey(kc.Key)
	keyring.ZeroKey(kc.Passphrase)
	if err != nil {
		return nil, err
	}

	opts.Cipher = cipher
	opts.Logger = s.log.Slog()
	for _, fn := range mutate {
		fn(&opts)
	}
	return storage.Open(s.cfg.DataDir, opts)
}

// print renders data in the selected output format.
func (s *session) print(data any) error {
	return output.NewFormatter(s.flags.Output, s.flags.Wide).Format(s.stdout, data)
}

// withEngine runs fn against a freshly opened engine and closes it.
func withEngine(c *cli.Context, fn func(*session, *storage.Engine) error) error {
	s, err := newSession(c, true)
	if err != nil {
		return err
	}
	e, err := s.openEngine()
	if err != nil {
		return err
	}
	runErr := fn(s, e)
	if err := e.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// ExitCode maps an error returned by App().Run to a process exit code.
func ExitCode(err error) int {
	var exit cli.ExitCoder
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exit):
		return exit.ExitCode()
	case errors.Is(err, domain.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, domain.ErrCorruptRecord):
		return ExitCorrupt
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidIdentifier):
		return ExitUsage
	default:
		return ExitError
	}
}
