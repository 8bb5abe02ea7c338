// Package cli implements the kra command-line tool.
package cli

import (
	"fmt"
	"io"
)

const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

type Command struct {
	Name    string
	Summary string
	Usage   []string
	Run     func(args []string, stdout, stderr io.Writer) int
}

func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stdout)
		return ExitUsage
	}
	if isHelpArg(args[0]) {
		printUsage(stdout)
		return ExitOK
	}

	cmd := findCommand(args[0])
	if cmd == nil {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return ExitUsage
	}

	return cmd.Run(args[1:], stdout, stderr)
}

func findCommand(name string) *Command {
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

func isHelpArg(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

func wantsHelp(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-h", "--help":
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  kra <command> [options] <arguments>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-17s %s\n", cmd.Name, cmd.Summary)
	}
	fmt.Fprintln(w, "\nOptions:")
	fmt.Fprintln(w, "  --api-key <key>     API key (default: $KRA_API_KEY)")
	fmt.Fprintln(w, "  --base-url <url>    API base URL (default: $KRA_API_BASE_URL)")
	fmt.Fprintln(w, "  --timeout <dur>     Request timeout, e.g. 30s (default: $KRA_TIMEOUT)")
	fmt.Fprintln(w, "\nUse \"kra <command> --help\" for more information.")
}

func printCommandUsage(cmd *Command, w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	for _, line := range cmd.Usage {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if cmd.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", cmd.Summary)
	}
}

func command(name, summary string, usage []string, nargs int, act action) *Command {
	cmd := &Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
	}
	cmd.Run = runAPI(cmd, nargs, act)
	return cmd
}

var commands = []*Command{
	command("verify-pin", "Verify a KRA PIN", []string{
		"kra verify-pin [options] <pin>",
	}, 1, verifyPIN),
	command("verify-tcc", "Verify a tax compliance certificate", []string{
		"kra verify-tcc [options] <tcc>",
	}, 1, verifyTCC),
	command("validate-eslip", "Validate an electronic payment slip", []string{
		"kra validate-eslip [options] <slip-number>",
	}, 1, validateEslip),
	command("file-nil-return", "File a NIL return", []string{
		"kra file-nil-return [options] <pin> <period YYYYMM> <obligation-id>",
	}, 3, fileNilReturn),
	command("taxpayer-details", "Show the taxpayer record for a PIN", []string{
		"kra taxpayer-details [options] <pin>",
	}, 1, taxpayerDetails),
	command("verify-pins", "Verify several PINs concurrently", []string{
		"kra verify-pins [options] <pin> [pin...]",
	}, variadic, verifyPINs),
}
