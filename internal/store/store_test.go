package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/cync-bridge/internal/command"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/database"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/protocol"

	_ "github.com/nerrad567/cync-bridge/migrations"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, database.Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	defer s.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM command_log").Scan(&count)
	if err != nil {
		t.Fatalf("command_log table not created: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty command_log, got %d rows", count)
	}
}

func TestLogCommand_MarkAcked(t *testing.T) {
	s := openTestStore(t)
	defer s.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	intent := command.Intent{
		Target:        protocol.TargetDevice,
		TargetID:      42,
		Kind:          meshmodel.CommandPower,
		Power:         true,
		BrightnessPct: 100,
	}

	correlationID, err := s.LogCommand(ctx, "device", 42, intent, 7)
	if err != nil {
		t.Fatalf("LogCommand() error = %v", err)
	}
	if correlationID == "" {
		t.Fatal("LogCommand() returned empty correlation id")
	}

	var status string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM command_log WHERE correlation_id = ?", correlationID).Scan(&status)
	if err != nil {
		t.Fatalf("querying logged command: %v", err)
	}
	if status != "pending" {
		t.Errorf("status = %q, want pending", status)
	}

	if err := s.MarkAcked(ctx, correlationID); err != nil {
		t.Fatalf("MarkAcked() error = %v", err)
	}

	var ackedAt *string
	err = s.db.QueryRowContext(ctx, "SELECT status, acked_at FROM command_log WHERE correlation_id = ?", correlationID).
		Scan(&status, &ackedAt)
	if err != nil {
		t.Fatalf("querying acked command: %v", err)
	}
	if status != "acked" {
		t.Errorf("status = %q, want acked", status)
	}
	if ackedAt == nil || *ackedAt == "" {
		t.Error("acked_at not set after MarkAcked")
	}
}

func TestLogCommand_MarkFailedAndTimedOut(t *testing.T) {
	s := openTestStore(t)
	defer s.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	intent := command.Intent{Target: protocol.TargetDevice, TargetID: 1, Kind: meshmodel.CommandFanSpeed, FanPreset: "low"}

	id1, err := s.LogCommand(ctx, "device", 1, intent, 0)
	if err != nil {
		t.Fatalf("LogCommand() error = %v", err)
	}
	if err := s.MarkFailed(ctx, id1); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	id2, err := s.LogCommand(ctx, "device", 1, intent, 0)
	if err != nil {
		t.Fatalf("LogCommand() error = %v", err)
	}
	if err := s.MarkTimedOut(ctx, id2); err != nil {
		t.Fatalf("MarkTimedOut() error = %v", err)
	}

	var status1, status2 string
	if err := s.db.QueryRowContext(ctx, "SELECT status FROM command_log WHERE correlation_id = ?", id1).Scan(&status1); err != nil {
		t.Fatalf("querying id1: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT status FROM command_log WHERE correlation_id = ?", id2).Scan(&status2); err != nil {
		t.Fatalf("querying id2: %v", err)
	}
	if status1 != "failed" {
		t.Errorf("status1 = %q, want failed", status1)
	}
	if status2 != "timed_out" {
		t.Errorf("status2 = %q, want timed_out", status2)
	}
}

func TestRecordAndRecentAvailability(t *testing.T) {
	s := openTestStore(t)
	defer s.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	if err := s.RecordAvailability(ctx, 9, false, "heartbeat_miss"); err != nil {
		t.Fatalf("RecordAvailability(offline) error = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := s.RecordAvailability(ctx, 9, true, "reconnected"); err != nil {
		t.Fatalf("RecordAvailability(online) error = %v", err)
	}

	events, err := s.RecentAvailability(ctx, 9, 10)
	if err != nil {
		t.Fatalf("RecentAvailability() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].Online || events[0].Reason != "reconnected" {
		t.Errorf("newest event = %+v, want online reconnected first", events[0])
	}
	if events[1].Online || events[1].Reason != "heartbeat_miss" {
		t.Errorf("oldest event = %+v, want offline heartbeat_miss second", events[1])
	}
}

func TestRecentAvailability_RespectsLimit(t *testing.T) {
	s := openTestStore(t)
	defer s.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.RecordAvailability(ctx, 3, i%2 == 0, "test"); err != nil {
			t.Fatalf("RecordAvailability() error = %v", err)
		}
	}

	events, err := s.RecentAvailability(ctx, 3, 2)
	if err != nil {
		t.Fatalf("RecentAvailability() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events (limit), got %d", len(events))
	}
}

func TestCommandKindName(t *testing.T) {
	cases := map[meshmodel.CommandKind]string{
		meshmodel.CommandPower:      "set_power",
		meshmodel.CommandBrightness: "set_brightness",
		meshmodel.CommandColorTemp:  "set_color_temp",
		meshmodel.CommandRGB:        "set_rgb",
		meshmodel.CommandFanSpeed:   "set_fan_speed",
	}
	for kind, want := range cases {
		if got := commandKindName(kind); got != want {
			t.Errorf("commandKindName(%v) = %q, want %q", kind, got, want)
		}
	}
	if got := commandKindName(meshmodel.CommandKind(99)); got != "unknown" {
		t.Errorf("commandKindName(unknown) = %q, want unknown", got)
	}
}
