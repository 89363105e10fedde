package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/cync-bridge/internal/command"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/database"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
)

// Store wraps the local SQLite database with the command/availability
// queries the supervisor needs.
type Store struct {
	db *database.DB
}

// Open connects to the SQLite database at cfg.Path and applies any
// pending migrations.
func Open(ctx context.Context, cfg database.Config) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogCommand records a newly accepted command and returns the
// correlation id the caller should use with MarkAcked/MarkFailed.
// Implements command.CommandLogger.
func (s *Store) LogCommand(ctx context.Context, targetType string, targetID int, intent command.Intent, bridgeDeviceID int) (string, error) {
	correlationID := uuid.NewString()

	payload, err := json.Marshal(intent)
	if err != nil {
		return "", fmt.Errorf("store: marshal command payload: %w", err)
	}

	var bridgeID interface{}
	if bridgeDeviceID != 0 {
		bridgeID = bridgeDeviceID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO command_log
			(correlation_id, target_type, target_id, command_type, payload_json, source, bridge_device_id, issued_at, status)
		VALUES (?, ?, ?, ?, ?, 'mqtt', ?, ?, 'pending')`,
		correlationID, targetType, targetID, commandKindName(intent.Kind), string(payload), bridgeID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("store: logging command: %w", err)
	}
	return correlationID, nil
}

// MarkAcked records that a command's ack arrived successfully.
func (s *Store) MarkAcked(ctx context.Context, correlationID string) error {
	return s.setStatus(ctx, correlationID, "acked", true)
}

// MarkFailed records that a command exhausted its targets without an ack.
func (s *Store) MarkFailed(ctx context.Context, correlationID string) error {
	return s.setStatus(ctx, correlationID, "failed", false)
}

// MarkTimedOut records that the ack deadline elapsed with no correlated ack.
func (s *Store) MarkTimedOut(ctx context.Context, correlationID string) error {
	return s.setStatus(ctx, correlationID, "timed_out", false)
}

func (s *Store) setStatus(ctx context.Context, correlationID, status string, acked bool) error {
	var ackedAt interface{}
	if acked {
		ackedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE command_log SET status = ?, acked_at = ? WHERE correlation_id = ?`,
		status, ackedAt, correlationID,
	)
	if err != nil {
		return fmt.Errorf("store: updating command status: %w", err)
	}
	return nil
}

// RecordAvailability appends one online/offline transition for deviceID.
func (s *Store) RecordAvailability(ctx context.Context, deviceID int, online bool, reason string) error {
	onlineVal := 0
	if online {
		onlineVal = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO availability_events (device_id, online, reason, occurred_at)
		VALUES (?, ?, ?, ?)`,
		deviceID, onlineVal, reason, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: recording availability event: %w", err)
	}
	return nil
}

// RecentAvailability returns the most recent availability transitions for
// deviceID, newest first, bounded by limit.
func (s *Store) RecentAvailability(ctx context.Context, deviceID, limit int) ([]AvailabilityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT online, reason, occurred_at FROM availability_events
		WHERE device_id = ? ORDER BY occurred_at DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: querying availability events: %w", err)
	}
	defer rows.Close()

	var out []AvailabilityEvent
	for rows.Next() {
		var ev AvailabilityEvent
		var onlineVal int
		var occurredAt string
		if err := rows.Scan(&onlineVal, &ev.Reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("store: scanning availability event: %w", err)
		}
		ev.Online = onlineVal != 0
		ev.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AvailabilityEvent is one row returned by RecentAvailability.
type AvailabilityEvent struct {
	Online     bool
	Reason     string
	OccurredAt time.Time
}

// commandKindName maps a command kind to the string stored in command_type.
func commandKindName(k meshmodel.CommandKind) string {
	switch k {
	case meshmodel.CommandPower:
		return "set_power"
	case meshmodel.CommandBrightness:
		return "set_brightness"
	case meshmodel.CommandColorTemp:
		return "set_color_temp"
	case meshmodel.CommandRGB:
		return "set_rgb"
	case meshmodel.CommandFanSpeed:
		return "set_fan_speed"
	default:
		return "unknown"
	}
}
