package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/basket/taskchat/internal/doctor"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "chat", "status", "doctor"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered (err=%v)", name, err)
		}
	}
	if root.Version != Version {
		t.Fatalf("version = %q", root.Version)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(errors.New("plain")); got != 1 {
		t.Fatalf("plain error code = %d, want 1", got)
	}
	if got := exitCode(&exitError{code: 3, err: errors.New("x")}); got != 3 {
		t.Fatalf("exitError code = %d, want 3", got)
	}
	wrapped := fmt.Errorf("ctx: %w", &exitError{code: 2, err: errors.New("x")})
	if got := exitCode(wrapped); got != 2 {
		t.Fatalf("wrapped exitError code = %d, want 2", got)
	}
}

func TestIsAddrInUse(t *testing.T) {
	if !isAddrInUse(errors.New("listen tcp :8080: bind: address already in use")) {
		t.Fatal("expected address-in-use match")
	}
	if isAddrInUse(errors.New("permission denied")) {
		t.Fatal("unexpected match")
	}
}

func TestReportDiagnosis(t *testing.T) {
	diag := doctor.Diagnosis{Results: []doctor.CheckResult{
		{Name: "Config", Status: doctor.StatusPass, Message: "ok"},
		{Name: "Database", Status: doctor.StatusFail, Message: "gone", Detail: "ping failed"},
	}}
	var out bytes.Buffer
	err := reportDiagnosis(&out, diag, false)
	if exitCode(err) != 1 {
		t.Fatalf("err = %v, want exit code 1", err)
	}
	if !strings.Contains(out.String(), "Database") || !strings.Contains(out.String(), "ping failed") {
		t.Fatalf("report = %q", out.String())
	}

	out.Reset()
	diag.Results = diag.Results[:1]
	if err := reportDiagnosis(&out, diag, true); err != nil {
		t.Fatalf("json report: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "PASS"`) {
		t.Fatalf("json report = %q", out.String())
	}
}
