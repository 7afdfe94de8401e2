// bili-ticket logs into the ticketing platform with a QR code, watches the
// account's orders and places (or rushes) ticket orders from the command
// line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Amorter/bili-ticket/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1], os.Args[2:], os.Stdout, os.Stderr)
	if errors.Is(err, errUsage) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":   loginCmd,
	"orders":  ordersCmd,
	"catalog": catalogCmd,
	"buy":     buyCmd,
	"rush":    rushCmd,
	"pay":     payCmd,
	"cancel":  cancelCmd,
	"buyers":  buyersCmd,
	"serve":   serveCmd,
}

func run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	switch name {
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", name)
		printUsage(stderr)
		return errUsage
	}

	var common commonFlags
	flagSet := pflag.NewFlagSet("bili-ticket "+name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	common.register(flagSet)
	rest, err := splitCommon(flagSet, args)
	if err != nil {
		return errUsage
	}

	logger := newLogger(stderr, common.debug)
	a, err := newApp(common, stdout, logger)
	if err != nil {
		return err
	}
	return cmd(ctx, a, rest)
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	settingsPath string
	statePath    string
	debug        bool
}

func (c *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.settingsPath, "settings", "bili-ticket.yaml", "YAML settings file")
	flagSet.StringVar(&c.statePath, "state", "", "state file (default from settings: config.json)")
	flagSet.BoolVar(&c.debug, "debug", config.EnvBool("DEBUG", false), "enable debug logging")
}

// splitCommon parses the common flags out of args and returns the rest for
// the subcommand's own flag set.
func splitCommon(flagSet *pflag.FlagSet, args []string) ([]string, error) {
	var common, rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			rest = append(rest, args[i:]...)
			break
		}
		name, inline := longFlagName(arg)
		flag := flagSet.Lookup(name)
		if flag == nil {
			rest = append(rest, arg)
			continue
		}
		common = append(common, arg)
		if !inline && flag.Value.Type() != "bool" && i+1 < len(args) {
			i++
			common = append(common, args[i])
		}
	}
	return rest, flagSet.Parse(common)
}

// longFlagName returns the name of a --flag argument and whether its value
// is given inline as --flag=value.
func longFlagName(arg string) (string, bool) {
	if len(arg) < 3 || !strings.HasPrefix(arg, "--") {
		return "", false
	}
	name, _, inline := strings.Cut(arg[2:], "=")
	return name, inline
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `bili-ticket - QR login, order monitoring and ticket purchase

USAGE
    bili-ticket <command> [flags]

COMMANDS
    login     Log in by scanning a QR code (--force to switch account)
    orders    List orders (--watch to keep refreshing)
    catalog   Show a project's screens, tickets and buyer mode
    buy       Place one order
    rush      Retry orders from a worker pool around sale start
    pay       Show the payment QR code of an order
    cancel    Cancel an order awaiting payment
    buyers    List registered real-name buyers
    serve     Log in if needed, monitor orders and serve the status API

COMMON FLAGS
    --settings PATH   YAML settings file (default bili-ticket.yaml)
    --state PATH      state file (default config.json)
    --debug           enable debug logging

ENVIRONMENT
    BILI_TICKET_DEBUG         Enable debug logging
    BILI_TICKET_STATE_PATH    State file location
    BILI_TICKET_STATUS_ADDR   Status API listen address
    BILI_TICKET_*             Any other setting, see internal/config
`)
}
