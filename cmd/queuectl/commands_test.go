package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"qms/branch-queue/internal/app"
	"qms/branch-queue/internal/config"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/queue"
	"qms/branch-queue/internal/store"
	"qms/branch-queue/internal/store/memory"
)

func runCLI(t *testing.T, st *memory.Store, args ...string) (string, error) {
	t.Helper()
	open := func(ctx context.Context) (*app.Backend, error) {
		return &app.Backend{Store: st, Sequencer: queue.NewLatestSequencer(st)}, nil
	}
	cmd := newRootCmdWith(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIssueCommand(t *testing.T) {
	st := memory.New()
	out, err := runCLI(t, st, "issue", "b")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(out, "B001\t") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := runCLI(t, st, "issue", "X"); err == nil {
		t.Fatalf("expected error for unknown counter")
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	st := memory.New()
	if _, err := runCLI(t, st, "issue", "A"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := runCLI(t, st, "reset"); err == nil {
		t.Fatalf("expected reset without --yes to fail")
	}
	out, err := runCLI(t, st, "reset", "--yes")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "deleted 1 tickets") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSettingsSetAndShow(t *testing.T) {
	st := memory.New()
	if _, err := runCLI(t, st, "settings", "set"); err == nil {
		t.Fatalf("expected error without flags")
	}
	if _, err := runCLI(t, st, "settings", "set", "--outlet-name", "KCP Menteng"); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out, err := runCLI(t, st, "settings", "show")
	if err != nil {
		t.Fatalf("settings show: %v", err)
	}
	var got models.Settings
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if got.OutletName != "KCP Menteng" || got.RunningText == "" {
		t.Fatalf("unexpected settings %+v", got)
	}
}

func TestArchiveAndExportCSV(t *testing.T) {
	st := memory.New()
	record := models.CompletionRecord{TicketNumber: "C001", Counter: "C", CounterLabel: "Admin Customer Service", CustomerName: "Dewi", Category: models.CategoryCard}
	if _, err := st.Insert(context.Background(), store.CompletionRecords, record.Record()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := runCLI(t, st, "archive")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.Contains(out, "archived 1 records") {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = runCLI(t, st, "export", "--format", "csv", "-o", "-")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "C001") || !strings.Contains(out, "Dewi") {
		t.Fatalf("unexpected export %q", out)
	}
}

func TestHashPassword(t *testing.T) {
	out, err := runCLI(t, memory.New(), "hash-password", "secret")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if !strings.HasPrefix(out, "$2a$") {
		t.Fatalf("unexpected hash %q", out)
	}
}

func TestOpenBackendRejectsMemoryStore(t *testing.T) {
	b, err := openBackend(context.Background(), config.Config{StoreDriver: config.StoreMemory, Numbering: config.NumberingLatest})
	if !errors.Is(err, errMemoryStore) {
		t.Fatalf("expected errMemoryStore, got %v", err)
	}
	if b != nil {
		t.Fatalf("expected no backend")
	}
}

func TestCommandsFailOnMemoryStore(t *testing.T) {
	open := func(ctx context.Context) (*app.Backend, error) {
		return openBackend(ctx, config.Config{StoreDriver: config.StoreMemory})
	}
	for _, args := range [][]string{{"issue", "A"}, {"reset", "--yes"}, {"archive"}, {"settings", "show"}} {
		cmd := newRootCmdWith(open)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		if err := cmd.Execute(); !errors.Is(err, errMemoryStore) {
			t.Fatalf("%v: expected errMemoryStore, got %v", args, err)
		}
	}
}
