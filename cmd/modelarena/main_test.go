package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"experiments", "run", "validate", "plan", "generate", "cache"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestParseModelRefs(t *testing.T) {
	refs, err := parseModelRefs([]string{"openai/gpt-4o", "anthropic/claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("parseModelRefs: %v", err)
	}
	if len(refs) != 2 || refs[0].Platform != "openai" || refs[1].Model != "claude-sonnet-4-5" {
		t.Errorf("refs = %+v", refs)
	}

	if _, err := parseModelRefs([]string{"missing-slash"}); err == nil {
		t.Error("expected error for malformed model spec")
	}
}

func TestClassifyFor(t *testing.T) {
	cases := []struct {
		format string
		text   string
		ok     bool
	}{
		{"json", "prose then {\"a\":1}", true},
		{"json-strict", "prose then {\"a\":1}", false},
		{"json-strict", `{"a":1}`, true},
		{"function-call", `{"function_call":{"name":"f","arguments":"{}"}}`, true},
		{"function-call", `{"a":1}`, false},
		{"tool-call", `{"server":"files","tool":"read"}`, true},
	}
	for _, tc := range cases {
		if got := classifyFor(tc.format, tc.text); got.OK != tc.ok {
			t.Errorf("classifyFor(%s, %q) ok = %v, want %v (%s)", tc.format, tc.text, got.OK, tc.ok, got.Reason)
		}
	}
}
