package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/njoerd114/medsync/internal/model"
	syncp "github.com/njoerd114/medsync/internal/sync"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintResult(t *testing.T) {
	res := syncp.Result{
		Success:          false,
		TotalMergedCount: 3,
		Outcomes: []syncp.Outcome{
			{Collection: model.Medications, Success: true, MergedCount: 2, Pushed: 2, Stage: syncp.StageDone},
			{Collection: model.Schedules, Success: true, MergedCount: 1, Pushed: 0, FailedPushIDs: []string{"s1"}, Stage: syncp.StageDone},
			{Collection: model.Reports, Stage: syncp.StageFetchingRemote, Message: "reports: fetching remote: timeout"},
		},
	}

	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()

	for _, want := range []string{
		"medications", "merged=2 pushed=2",
		"partial", "1 not pushed",
		"FAILED", "fetching_remote", "timeout",
		"FAILED: 3 record(s) merged",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResult_Skipped(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, syncp.Result{Message: "not authenticated"})
	if got := buf.String(); got != "sync skipped: not authenticated\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"daemon", "sync-once", "sync-collection", "status", "login", "logout", "init", "install", "uninstall", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (err %v)", name, err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := buf.String(); got != "medsync dev\n" {
		t.Errorf("output = %q, want %q", got, "medsync dev\n")
	}
}

func TestSyncCollectionRejectsUnknown(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"sync-collection", "vitamins"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown collection") {
		t.Errorf("Execute = %v, want unknown collection error", err)
	}
}
