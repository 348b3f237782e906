package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/models"
)

func TestLoadReadsEnvFile(t *testing.T) {
	// Registered so the variable is unset again after the test.
	t.Setenv("RELAY_MODEL", "placeholder")
	os.Unsetenv("RELAY_MODEL")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("RELAY_MODEL=grok-3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	g := &globalFlags{envFile: envPath}
	cfg, logger, err := g.load()
	if err != nil {
		t.Fatal(err)
	}
	if logger == nil {
		t.Fatal("expected a logger")
	}
	if cfg.Remote.Model != "grok-3" {
		t.Errorf("expected model from env file, got %q", cfg.Remote.Model)
	}
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	g := &globalFlags{envFile: filepath.Join(t.TempDir(), "missing.env")}
	if _, _, err := g.load(); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"2026-02-10", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), false},
		{"24h", time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), false},
		{"-5h", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSince(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSince(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWriteRecords(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRecords(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No cost records") {
		t.Errorf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	err := writeRecords(&buf, []models.CostRecord{
		{SessionID: "sess_1", Model: "grok-3", InputTokens: 10, OutputTokens: 5, CostUSD: 0.0123, Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"MODEL", "sess_1", "grok-3", "$0.0123"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteJournalSummaryTotals(t *testing.T) {
	var buf bytes.Buffer
	err := writeJournalSummary(&buf, []models.JournalSummary{
		{SessionID: "a", Model: "grok-3", Queries: 2, CostUSD: 1.5},
		{SessionID: "b", Model: "grok-3-mini", Queries: 1, CostUSD: 0.25},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "$1.7500") {
		t.Errorf("expected total in output:\n%s", buf.String())
	}
}

func TestOpenJournalRequiresExistingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.DBPath = filepath.Join(t.TempDir(), "none.db")
	if _, err := openJournal(cfg); err == nil {
		t.Error("expected error for missing journal")
	}
}

func TestNewRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.APIKey = ""
	cfg.Journal.Enabled = true
	cfg.Journal.DBPath = filepath.Join(t.TempDir(), "relay.db")

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rt.Close() }()

	if rt.completer != nil {
		t.Error("expected no completer without an API key")
	}
	if rt.journal == nil {
		t.Fatal("expected journal to be opened")
	}

	rt.gov.Tracker().AddCost(models.CostRecord{Model: "grok-3", CostUSD: 0.5})
	j, err := openJournal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = j.Close() }()
	recs, err := j.Query(t.Context(), time.Time{}, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 journaled record, got %d", len(recs))
	}
}

func TestNewRuntimeWithKey(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.APIKey = "xai-test-key"

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rt.Close() }()
	if rt.completer == nil {
		t.Fatal("expected a completer")
	}
	if rt.completer.Model() != cfg.Remote.Model {
		t.Errorf("unexpected model %q", rt.completer.Model())
	}
}

func TestRuntimeSchedulesRetention(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Enabled = true
	cfg.Journal.DBPath = filepath.Join(t.TempDir(), "relay.db")

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.startBackground(t.Context()); err != nil {
		t.Fatal(err)
	}
	if !rt.retention.Running() {
		t.Error("expected retention scheduler running")
	}
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	if rt.retention.Running() {
		t.Error("expected retention scheduler stopped after Close")
	}
}
