package main

import "testing"

func TestRootCommandName(t *testing.T) {
	if rootCmd.Use != "pairsync" {
		t.Fatalf("expected root command name pairsync, got %q", rootCmd.Use)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"watch", "status", "reconnect", "logout", "devserver"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (got %v, %v)", name, cmd, err)
		}
	}
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "prefs", "poll", "tab"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing --%s", name)
		}
	}
}
