package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BerjisTech/kra-connect-go/internal/testutil"
)

// isolateEnv keeps the caller's KRA_* environment out of the tests.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KRA_API_KEY", "")
	t.Setenv("KRA_CONFIG_FILE", "")
	t.Setenv("KRA_LOG_LEVEL", "error")
}

func runAgainst(t *testing.T, mock *testutil.MockKRA, args ...string) (int, string, string) {
	t.Helper()

	full := append([]string{args[0], "--api-key", testutil.TestAPIKey, "--base-url", mock.URL()}, args[1:]...)
	var out, errOut bytes.Buffer
	code := Run(full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRootHelp(t *testing.T) {
	var out, err bytes.Buffer
	code := Run([]string{"--help"}, &out, &err)
	if code != ExitOK {
		t.Fatalf("expected exit %d, got %d", ExitOK, code)
	}
	if err.Len() != 0 {
		t.Fatalf("expected no stderr output, got %q", err.String())
	}
	output := out.String()
	if !strings.Contains(output, "Usage:") {
		t.Fatalf("expected usage header, got %q", output)
	}
	for _, cmd := range commands {
		if !strings.Contains(output, cmd.Name) {
			t.Fatalf("expected command %q in output", cmd.Name)
		}
	}
}

func TestNoArgsShowsUsage(t *testing.T) {
	var out, err bytes.Buffer
	code := Run(nil, &out, &err)
	if code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Fatalf("expected usage output, got %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	var out, err bytes.Buffer
	code := Run([]string{"nope"}, &out, &err)
	if code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no stdout output, got %q", out.String())
	}
	if !strings.Contains(err.String(), "Unknown command") {
		t.Fatalf("expected unknown command error, got %q", err.String())
	}
}

func TestCommandHelp(t *testing.T) {
	for _, cmd := range commands {
		t.Run(cmd.Name, func(t *testing.T) {
			var out, err bytes.Buffer
			code := Run([]string{cmd.Name, "--help"}, &out, &err)
			if code != ExitOK {
				t.Fatalf("expected exit %d, got %d", ExitOK, code)
			}
			if !strings.Contains(out.String(), cmd.Usage[0]) {
				t.Fatalf("expected usage %q, got %q", cmd.Usage[0], out.String())
			}
		})
	}
}

func TestWrongArgumentCount(t *testing.T) {
	tests := [][]string{
		{"verify-pin"},
		{"verify-pin", "P051234567A", "extra"},
		{"file-nil-return", "P051234567A", "202401"},
		{"verify-pins"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			var out, err bytes.Buffer
			code := Run(args, &out, &err)
			if code != ExitUsage {
				t.Fatalf("expected exit %d, got %d", ExitUsage, code)
			}
			if !strings.Contains(err.String(), "wrong number of arguments") {
				t.Fatalf("expected argument error, got %q", err.String())
			}
		})
	}
}

func TestMissingAPIKey(t *testing.T) {
	isolateEnv(t)

	var out, err bytes.Buffer
	code := Run([]string{"verify-pin", testutil.ValidPIN}, &out, &err)
	if code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
	if !strings.Contains(err.String(), "KRA_API_KEY") {
		t.Fatalf("expected missing key error, got %q", err.String())
	}
}

func TestVerifyPIN(t *testing.T) {
	isolateEnv(t)
	mock := testutil.NewMockKRA()
	defer mock.Close()

	code, out, errOut := runAgainst(t, mock, "verify-pin", testutil.ValidPIN)
	if code != ExitOK {
		t.Fatalf("expected exit %d, got %d (stderr %q)", ExitOK, code, errOut)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("expected JSON output: %v (%q)", err, out)
	}
	if result["pin_number"] != testutil.ValidPIN || result["is_valid"] != true {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestFileNilReturn(t *testing.T) {
	isolateEnv(t)
	mock := testutil.NewMockKRA()
	defer mock.Close()

	code, out, errOut := runAgainst(t, mock, "file-nil-return", testutil.ValidPIN, testutil.TestPeriod, testutil.TestObligation)
	if code != ExitOK {
		t.Fatalf("expected exit %d, got %d (stderr %q)", ExitOK, code, errOut)
	}
	if !strings.Contains(out, testutil.SubmissionRef) {
		t.Fatalf("expected submission reference in %q", out)
	}
}

func TestVerifyPINs(t *testing.T) {
	isolateEnv(t)
	mock := testutil.NewMockKRA()
	defer mock.Close()

	code, out, errOut := runAgainst(t, mock, "verify-pins", testutil.ValidPIN, "bogus")
	if code != ExitOK {
		t.Fatalf("expected exit %d, got %d (stderr %q)", ExitOK, code, errOut)
	}

	var results []map[string]any
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("expected JSON array: %v", err)
	}
	if len(results) != 2 || results[0]["is_valid"] != true || results[1]["is_valid"] != false {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestValidationErrorIsUsage(t *testing.T) {
	isolateEnv(t)
	mock := testutil.NewMockKRA()
	defer mock.Close()

	code, _, errOut := runAgainst(t, mock, "verify-tcc", "123")
	if code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
	if !strings.Contains(errOut, "invalid tcc") {
		t.Fatalf("expected validation message, got %q", errOut)
	}
	if mock.RequestCount() != 0 {
		t.Fatalf("expected no request, got %d", mock.RequestCount())
	}
}

func TestAPIErrorExitCode(t *testing.T) {
	isolateEnv(t)
	mock := testutil.NewMockKRA()
	defer mock.Close()
	mock.SetAPIKey("different-key")

	code, out, errOut := runAgainst(t, mock, "taxpayer-details", testutil.ValidPIN)
	if code != ExitError {
		t.Fatalf("expected exit %d, got %d", ExitError, code)
	}
	if out != "" {
		t.Fatalf("expected no stdout output, got %q", out)
	}
	if !strings.Contains(errOut, "authentication") {
		t.Fatalf("expected authentication error, got %q", errOut)
	}
}
