package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/BerjisTech/kra-connect-go/internal/config"
	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/client"
	"github.com/BerjisTech/kra-connect-go/pkg/logging"
)

// variadic marks a command that takes one or more arguments.
const variadic = -1

// action performs one API command and returns the value to print.
type action func(ctx context.Context, c *client.Client, args []string) (any, error)

type globalFlags struct {
	apiKey  string
	baseURL string
	timeout time.Duration
}

func (g *globalFlags) register(flags *flag.FlagSet) {
	flags.StringVar(&g.apiKey, "api-key", "", "API key (default: $KRA_API_KEY)")
	flags.StringVar(&g.baseURL, "base-url", "", "API base URL (default: $KRA_API_BASE_URL)")
	flags.DurationVar(&g.timeout, "timeout", 0, "Request timeout (default: $KRA_TIMEOUT)")
}

func (g *globalFlags) override(cfg *config.Config) {
	if g.apiKey != "" {
		cfg.API.Key = g.apiKey
	}
	if g.baseURL != "" {
		cfg.API.BaseURL = g.baseURL
	}
	if g.timeout > 0 {
		cfg.API.Timeout = g.timeout
	}
}

// runAPI builds the handler shared by every API command: parse flags, load
// configuration, run act, print the result as JSON.
func runAPI(cmd *Command, nargs int, act action) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		var global globalFlags
		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		global.register(flags)
		if err := flags.Parse(args); err != nil {
			fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}

		positional := flags.Args()
		if (nargs == variadic && len(positional) == 0) || (nargs != variadic && len(positional) != nargs) {
			fmt.Fprintf(stderr, "%s: wrong number of arguments: %s\n", cmd.Name, strings.Join(positional, " "))
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, err := config.Load(ctx, global.override)
		if err != nil {
			fmt.Fprintf(stderr, "Configuration error: %v\n", err)
			return ExitUsage
		}

		logCfg := cfg.Logging()
		logCfg.Output = stderr
		logger := logging.Setup(logCfg)

		c, err := client.New(cfg.Client(), client.WithLogger(logger))
		if err != nil {
			fmt.Fprintf(stderr, "Failed to create client: %v\n", err)
			return ExitError
		}
		defer c.Close()

		result, err := act(ctx, c, positional)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			var verr *apierror.ValidationError
			if errors.As(err, &verr) {
				return ExitUsage
			}
			return ExitError
		}

		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(stderr, "Failed to write result: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
}

func verifyPIN(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.VerifyPIN(ctx, args[0])
}

func verifyTCC(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.VerifyTCC(ctx, args[0])
}

func validateEslip(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.ValidateEslip(ctx, args[0])
}

func fileNilReturn(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.FileNilReturn(ctx, args[0], args[1], args[2])
}

func taxpayerDetails(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.GetTaxpayerDetails(ctx, args[0])
}

func verifyPINs(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.VerifyPINsBatch(ctx, args)
}
