package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/evidense/internal/config"
	"github.com/banshee-data/evidense/internal/export"
	"github.com/banshee-data/evidense/internal/fsutil"
	"github.com/banshee-data/evidense/internal/instrument"
	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/run"
	"github.com/banshee-data/evidense/internal/security"
	"github.com/banshee-data/evidense/internal/serialport"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/timeutil"
)

// Process exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitCommunication = 3
	exitNotFound      = 10
	exitUnknownOption = 50
	exitUnknownArg    = 53
	exitFile          = 56
)

var (
	errUnknownOption = errors.New("unknown option")
	errUnknownArg    = errors.New("unknown argument")
)

// exitCode maps an error returned by a command onto the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, instrument.ErrNotFound):
		return exitNotFound
	case errors.Is(err, instrument.ErrCommunication), errors.Is(err, context.DeadlineExceeded):
		return exitCommunication
	case errors.Is(err, errUnknownOption), errors.Is(err, export.ErrOption):
		return exitUnknownOption
	case errors.Is(err, errUnknownArg):
		return exitUnknownArg
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, storage.ErrParse),
		errors.Is(err, run.ErrNoSession), errors.Is(err, security.ErrOutsideAllowedDirs):
		return exitFile
	default:
		return exitFailure
	}
}

// app carries the global options and the collaborators every command uses.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg     *config.RunConfig
	dev     bool
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	factory serialport.Factory
	// sim is the instrument used in --dev mode.
	sim *instrument.Simulator
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("evidense", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { printUsage(stderr) }
	configPath := flags.String("config", "", "JSON configuration file")
	verbose := flags.Bool("verbose", false, "Log instrument traffic and diagnostics")
	devMode := flags.Bool("dev", false, "Use the built-in instrument simulator")
	device := flags.String("device", "", "Serial number of the instrument to discover")
	port := flags.String("port", "", "Serial port of the instrument (skips discovery)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUnknownOption
	}
	monitoring.SetVerbose(*verbose)

	cfg := &config.RunConfig{}
	if *configPath != "" {
		loaded, err := config.LoadRunConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "evidense: %v\n", err)
			return exitFile
		}
		cfg = loaded
	}
	if *device != "" {
		cfg.SerialNumber = device
	}
	if *port != "" {
		cfg.SerialPort = port
	}

	a := &app{
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		cfg:     cfg,
		dev:     *devMode,
		fs:      fsutil.OSFileSystem{},
		clock:   timeutil.RealClock{},
		factory: serialport.SystemFactory{},
	}
	if a.dev {
		sn := cfg.GetSerialNumber()
		if sn == "" {
			sn = "SIM0001"
		}
		a.sim = instrument.NewSimulator(sn)
	}

	if flags.NArg() < 1 {
		printUsage(stderr)
		return exitUnknownArg
	}
	err := a.dispatch(ctx, flags.Arg(0), flags.Args()[1:])
	if err != nil {
		fmt.Fprintf(stderr, "evidense: %v\n", err)
		if errors.Is(err, errUnknownArg) || errors.Is(err, errUnknownOption) {
			printUsage(stderr)
		}
	}
	return exitCode(err)
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "run":
		if len(args) < 1 {
			return fmt.Errorf("%w: run needs a subcommand", errUnknownArg)
		}
		switch args[0] {
		case "init":
			return a.runInit(ctx, args[1:])
		case "measure":
			return a.runMeasure(ctx, args[1:])
		case "checkempty":
			return a.runCheckEmpty(ctx, args[1:])
		case "export":
			return a.runExport(args[1:])
		default:
			return fmt.Errorf("%w: run %s", errUnknownArg, args[0])
		}
	case "guided":
		return a.guided(ctx, args)
	case "export":
		return a.export(args)
	case "plot":
		return a.plot(args)
	case "serve":
		return a.serve(ctx, args)
	case "info":
		return a.info(args)
	case "version":
		return a.version(args)
	case "help":
		printUsage(a.stdout)
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownArg, command)
	}
}

// parseArgs parses flags that may appear before, between or after the
// positional arguments and returns the positionals.
func parseArgs(flags *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := flags.Parse(args); err != nil {
			return nil, fmt.Errorf("%w: %v", errUnknownOption, err)
		}
		args = flags.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(out)
	return flags
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `evidense - four-wavelength nucleic acid photometer

Usage: evidense [options] <command> [arguments]

Commands:
  run init N [--file f]     Start a run calibrated from N blanks
  run measure [comment]     Perform the next step of the run
  run checkempty            Ask whether the cuvette holder is empty
  run export [--mode m]     Export the current run to CSV next to its data file
  guided N                  Interactive run with N blanks, one step per Enter
  export [--mode raw|results] [--delimiter comma|semicolon|tab] in.json out.csv
  plot [--blanks N] in.json out.png|svg|pdf
  serve [--listen addr] in.json
  info                      Show configuration and the run in progress
  version                   Show version

Options:
  --config <file>   JSON configuration file
  --verbose         Log instrument traffic and diagnostics
  --dev             Use the built-in instrument simulator
  --device <SN>     Serial number of the instrument to discover
  --port <path>     Serial port of the instrument (skips discovery)

Exit codes:
  0 ok, 3 communication error, 10 instrument not found, 50 unknown option,
  53 unknown argument, 56 file not found or unreadable
`)
}
