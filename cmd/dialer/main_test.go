package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "dialer "+version) {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "down"}, {"version"}} {
		cmd, rest, err := rootCmd.Find(path)
		if err != nil || len(rest) != 0 {
			t.Fatalf("find %v: rest=%v err=%v", path, rest, err)
		}
		if cmd.Name() != path[len(path)-1] {
			t.Fatalf("find %v resolved to %q", path, cmd.Name())
		}
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Fatal("missing --config flag")
	}
}
