package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store is the persistence contract for verification processes. The engine
// exclusively owns status/version/history mutation and always writes through
// Update, which must reject stale versions.
type Store interface {
	Create(ctx context.Context, p *Process) error
	Get(ctx context.Context, id uuid.UUID) (*Process, error)

	// Update persists the process only if the stored version still equals
	// expectedVersion, returning VersionConflictError otherwise.
	Update(ctx context.Context, p *Process, expectedVersion int) error

	// UpdateRisk rewrites only the risk columns; it is not a transition and
	// does not touch the version counter.
	UpdateRisk(ctx context.Context, id uuid.UUID, risk *RiskAssessment) error

	List(ctx context.Context, filters *ProcessFilters) ([]*Process, int, error)

	// ProcessExists supports reference checks from the communication log.
	ProcessExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL process store
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *Process) error {
	requestJSON, err := json.Marshal(p.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	historyJSON, err := json.Marshal(p.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	riskJSON, riskLevel, err := marshalRisk(p.Risk)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO verification_processes (
			id, user_id, user_type, request, status, priority, risk, risk_level,
			assigned_reviewer, history, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.UserType, requestJSON, p.Status, p.Priority,
		riskJSON, riskLevel, p.AssignedReviewer, historyJSON, p.Version,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Process, error) {
	query := `
		SELECT id, user_id, user_type, request, status, priority, risk,
			   assigned_reviewer, history, version, created_at, updated_at
		FROM verification_processes
		WHERE id = $1
	`

	p, err := scanProcess(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{ProcessID: id}
		}
		return nil, fmt.Errorf("failed to get process: %w", err)
	}

	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *Process, expectedVersion int) error {
	historyJSON, err := json.Marshal(p.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	riskJSON, riskLevel, err := marshalRisk(p.Risk)
	if err != nil {
		return err
	}

	query := `
		UPDATE verification_processes SET
			status = $3, priority = $4, risk = $5, risk_level = $6,
			assigned_reviewer = $7, history = $8, version = $9, updated_at = $10
		WHERE id = $1 AND version = $2
	`

	result, err := s.db.ExecContext(ctx, query,
		p.ID, expectedVersion, p.Status, p.Priority, riskJSON, riskLevel,
		p.AssignedReviewer, historyJSON, p.Version, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the row vanished or another reviewer won the race; re-read
		// to report the right failure.
		current, getErr := s.Get(ctx, p.ID)
		if getErr != nil {
			return getErr
		}
		return &VersionConflictError{ProcessID: p.ID, Expected: expectedVersion, Actual: current.Version}
	}

	return nil
}

func (s *PostgresStore) UpdateRisk(ctx context.Context, id uuid.UUID, risk *RiskAssessment) error {
	riskJSON, riskLevel, err := marshalRisk(risk)
	if err != nil {
		return err
	}

	query := `
		UPDATE verification_processes SET
			risk = $2, risk_level = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, riskJSON, riskLevel)
	if err != nil {
		return fmt.Errorf("failed to update risk assessment: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &NotFoundError{ProcessID: id}
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context, filters *ProcessFilters) ([]*Process, int, error) {
	var conditions []string
	var args []interface{}
	argCount := 0

	if filters.Status != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argCount))
		args = append(args, *filters.Status)
	}

	if filters.Priority != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argCount))
		args = append(args, *filters.Priority)
	}

	if filters.RiskLevel != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("risk_level = $%d", argCount))
		args = append(args, *filters.RiskLevel)
	}

	if filters.AssignedReviewer != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("assigned_reviewer = $%d", argCount))
		args = append(args, *filters.AssignedReviewer)
	}

	if filters.CreatedAfter != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argCount))
		args = append(args, *filters.CreatedAfter)
	}

	if filters.CreatedBefore != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argCount))
		args = append(args, *filters.CreatedBefore)
	}

	if filters.SearchTerm != nil && *filters.SearchTerm != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf("(request->>'full_name' ILIKE $%d OR request->>'email' ILIKE $%d)", argCount, argCount))
		args = append(args, "%"+*filters.SearchTerm+"%")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	// Overdue is derived from the deadline inside the history JSONB, so it
	// cannot be counted or paged in SQL without desyncing the total. Resolve
	// it over the full filtered set and page in memory, like the memory store.
	if filters.Overdue != nil {
		return s.listOverdue(ctx, whereClause, args, filters)
	}

	// Get total count
	var totalCount int
	countQuery := `SELECT COUNT(*) FROM verification_processes` + whereClause
	err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count processes: %w", err)
	}

	// Add pagination
	offset := (filters.Page - 1) * filters.PageSize
	if filters.Page < 1 {
		offset = 0
	}

	argCount++
	limitArg := argCount
	argCount++
	offsetArg := argCount

	query := `
		SELECT id, user_id, user_type, request, status, priority, risk,
			   assigned_reviewer, history, version, created_at, updated_at
		FROM verification_processes
	` + whereClause + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", limitArg, offsetArg)
	args = append(args, filters.PageSize, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var processes []*Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan process: %w", err)
		}
		processes = append(processes, p)
	}

	return processes, totalCount, nil
}

func (s *PostgresStore) listOverdue(ctx context.Context, whereClause string, args []interface{}, filters *ProcessFilters) ([]*Process, int, error) {
	query := `
		SELECT id, user_id, user_type, request, status, priority, risk,
			   assigned_reviewer, history, version, created_at, updated_at
		FROM verification_processes
	` + whereClause + " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var matched []*Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan process: %w", err)
		}
		if p.IsOverdue(now) == *filters.Overdue {
			matched = append(matched, p)
		}
	}

	return paginateProcesses(matched, filters.Page, filters.PageSize), len(matched), nil
}

// paginateProcesses slices one page out of an already filtered, already
// ordered result set. A non-positive page size returns everything.
func paginateProcesses(processes []*Process, page, pageSize int) []*Process {
	if pageSize <= 0 {
		return processes
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(processes) {
		return nil
	}
	end := start + pageSize
	if end > len(processes) {
		end = len(processes)
	}
	return processes[start:end]
}

func (s *PostgresStore) ProcessExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification_processes WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check process existence: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProcess(row rowScanner) (*Process, error) {
	var (
		p           Process
		requestJSON []byte
		historyJSON []byte
		riskJSON    []byte
	)

	err := row.Scan(
		&p.ID, &p.UserID, &p.UserType, &requestJSON, &p.Status, &p.Priority,
		&riskJSON, &p.AssignedReviewer, &historyJSON, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(requestJSON, &p.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &p.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if len(riskJSON) > 0 {
		var risk RiskAssessment
		if err := json.Unmarshal(riskJSON, &risk); err != nil {
			return nil, fmt.Errorf("failed to unmarshal risk assessment: %w", err)
		}
		p.Risk = &risk
	}

	return &p, nil
}

func marshalRisk(risk *RiskAssessment) ([]byte, *RiskLevel, error) {
	if risk == nil {
		return nil, nil, nil
	}
	riskJSON, err := json.Marshal(risk)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal risk assessment: %w", err)
	}
	level := risk.Level
	return riskJSON, &level, nil
}
