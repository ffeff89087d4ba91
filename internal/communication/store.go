package communication

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store is the persistence contract for the communication log
type Store interface {
	InsertSystemMessage(ctx context.Context, msg *SystemMessage) error
	GetSystemMessage(ctx context.Context, id uuid.UUID) (*SystemMessage, error)

	// UpdateSystemMessage persists the message only if the stored delivery
	// status still equals expected, returning InvalidDeliveryTransitionError
	// otherwise. Concurrent advances race here, not in the log.
	UpdateSystemMessage(ctx context.Context, msg *SystemMessage, expected DeliveryStatus) error

	InsertUserMessage(ctx context.Context, msg *UserMessage) error
	ListByProcess(ctx context.Context, processID uuid.UUID) ([]SystemMessage, []UserMessage, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL message store
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertSystemMessage(ctx context.Context, msg *SystemMessage) error {
	query := `
		INSERT INTO system_messages (
			id, process_id, user_id, type, content, delivery_status,
			created_at, sent_at, delivered_at, read_at, failed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ProcessID, msg.UserID, msg.Type, msg.Content,
		msg.DeliveryStatus, msg.CreatedAt, msg.SentAt, msg.DeliveredAt,
		msg.ReadAt, msg.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert system message: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetSystemMessage(ctx context.Context, id uuid.UUID) (*SystemMessage, error) {
	query := `
		SELECT id, process_id, user_id, type, content, delivery_status,
			   created_at, sent_at, delivered_at, read_at, failed_at
		FROM system_messages
		WHERE id = $1
	`

	var msg SystemMessage
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.ProcessID, &msg.UserID, &msg.Type, &msg.Content,
		&msg.DeliveryStatus, &msg.CreatedAt, &msg.SentAt, &msg.DeliveredAt,
		&msg.ReadAt, &msg.FailedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("failed to get system message: %w", err)
	}

	return &msg, nil
}

func (s *PostgresStore) UpdateSystemMessage(ctx context.Context, msg *SystemMessage, expected DeliveryStatus) error {
	query := `
		UPDATE system_messages SET
			delivery_status = $2, sent_at = $3, delivered_at = $4,
			read_at = $5, failed_at = $6
		WHERE id = $1 AND delivery_status = $7
	`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.DeliveryStatus, msg.SentAt, msg.DeliveredAt,
		msg.ReadAt, msg.FailedAt, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update system message: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the row vanished or a concurrent advance won; re-read to
		// report the right failure.
		current, getErr := s.GetSystemMessage(ctx, msg.ID)
		if getErr != nil {
			return getErr
		}
		return &InvalidDeliveryTransitionError{
			MessageID: msg.ID, From: current.DeliveryStatus, To: msg.DeliveryStatus,
		}
	}

	return nil
}

func (s *PostgresStore) InsertUserMessage(ctx context.Context, msg *UserMessage) error {
	query := `
		INSERT INTO user_messages (
			id, process_id, user_id, admin_id, content, is_from_admin, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ProcessID, msg.UserID, msg.AdminID, msg.Content,
		msg.IsFromAdmin, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user message: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListByProcess(ctx context.Context, processID uuid.UUID) ([]SystemMessage, []UserMessage, error) {
	systemQuery := `
		SELECT id, process_id, user_id, type, content, delivery_status,
			   created_at, sent_at, delivered_at, read_at, failed_at
		FROM system_messages
		WHERE process_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, systemQuery, processID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list system messages: %w", err)
	}
	defer rows.Close()

	var system []SystemMessage
	for rows.Next() {
		var msg SystemMessage
		err := rows.Scan(
			&msg.ID, &msg.ProcessID, &msg.UserID, &msg.Type, &msg.Content,
			&msg.DeliveryStatus, &msg.CreatedAt, &msg.SentAt, &msg.DeliveredAt,
			&msg.ReadAt, &msg.FailedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan system message: %w", err)
		}
		system = append(system, msg)
	}

	userQuery := `
		SELECT id, process_id, user_id, admin_id, content, is_from_admin, created_at
		FROM user_messages
		WHERE process_id = $1
		ORDER BY created_at ASC
	`

	userRows, err := s.db.QueryContext(ctx, userQuery, processID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list user messages: %w", err)
	}
	defer userRows.Close()

	var user []UserMessage
	for userRows.Next() {
		var msg UserMessage
		err := userRows.Scan(
			&msg.ID, &msg.ProcessID, &msg.UserID, &msg.AdminID, &msg.Content,
			&msg.IsFromAdmin, &msg.CreatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan user message: %w", err)
		}
		user = append(user, msg)
	}

	return system, user, nil
}
