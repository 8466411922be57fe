package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"--help"}, &out, &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	for _, want := range []string{"ledger-node", "run", "demo", "challenge"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected help output to mention %q", want)
		}
	}
}

func TestDemo(t *testing.T) {
	t.Setenv("LEDGER_DEBUG", "")
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"demo", "--difficulty=1", "--log-level=error", "--env-file="}, &out, &errOut)
	if code != 0 {
		t.Fatalf("demo failed: %s", errOut.String())
	}
	got := out.String()
	for _, want := range []string{
		"pending on B: 1",
		"A mined block 1",
		"B verifies block 1: true",
		"after deauthorizing A: false",
		"A chain valid: true",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("demo output missing %q:\n%s", want, got)
		}
	}
}

func TestChallenge(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"challenge", "--public-key=k", "--private-key=k", "--env-file="}, &out, &out)
	if code != 0 {
		t.Fatalf("challenge failed: %s", out.String())
	}
	if !strings.Contains(out.String(), "valid: true") || !strings.Contains(out.String(), "replay accepted: false") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	out.Reset()
	code = run(context.Background(), []string{"challenge", "--public-key=k", "--private-key=other", "--env-file="}, &out, &out)
	if code != 0 {
		t.Fatalf("challenge failed: %s", out.String())
	}
	if !strings.Contains(out.String(), "valid: false") {
		t.Fatalf("expected mismatched identity to fail: %s", out.String())
	}
}

func TestRunRequiresIdentity(t *testing.T) {
	t.Setenv("LEDGER_PUBLIC_KEY", "")
	t.Setenv("LEDGER_PRIVATE_KEY", "")
	var out bytes.Buffer
	if code := run(context.Background(), []string{"run", "--env-file="}, &out, &out); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out.String(), "missing node identity") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}
