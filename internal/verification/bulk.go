package verification

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BulkAction names the single operation applied across a batch
type BulkAction string

const (
	BulkApprove BulkAction = "approve"
	BulkReject  BulkAction = "reject"
	BulkAssign  BulkAction = "assign"
)

// BulkItem is one (process, expected version) pair in a batch
type BulkItem struct {
	ProcessID       uuid.UUID `json:"process_id"`
	ExpectedVersion int       `json:"expected_version"`
}

// BulkRequest applies one action to many processes. Exactly one of Approve,
// Reject or ReviewerID must be set, matching Action.
type BulkRequest struct {
	Action     BulkAction
	Items      []BulkItem
	Approve    *ApproveInput
	Reject     *RejectInput
	ReviewerID *uuid.UUID
	Actor      string
}

// BulkItemResult reports one item's outcome. Version carries the new version
// on success so the caller's next command is pre-armed.
type BulkItemResult struct {
	ProcessID uuid.UUID `json:"process_id"`
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Version   int       `json:"version,omitempty"`
}

// BulkCoordinator fans a batch out over the engine. Items are independent:
// each one's transition plus message enqueue is atomic as a unit, the batch as
// a whole is not, and one item's failure never aborts the rest.
type BulkCoordinator struct {
	engine      *Engine
	concurrency int
	logger      *zap.Logger
}

// NewBulkCoordinator creates a coordinator with the given fan-out width
func NewBulkCoordinator(engine *Engine, concurrency int, logger *zap.Logger) *BulkCoordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BulkCoordinator{engine: engine, concurrency: concurrency, logger: logger}
}

// Execute runs the batch and returns per-item results in input order. When
// the context is canceled, unprocessed items are marked canceled; items that
// already went through stay applied — compensation is a fresh opposite
// transition, never an undo.
func (c *BulkCoordinator) Execute(ctx context.Context, req BulkRequest) ([]BulkItemResult, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	results := make([]BulkItemResult, len(req.Items))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, item := range req.Items {
		if ctx.Err() != nil {
			results[i] = BulkItemResult{
				ProcessID: item.ProcessID,
				ErrorKind: KindCanceled,
				Error:     "batch abandoned before this item was processed",
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item BulkItem) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.applyOne(ctx, req, item)
		}(i, item)
	}

	wg.Wait()
	return results, nil
}

func (c *BulkCoordinator) applyOne(ctx context.Context, req BulkRequest, item BulkItem) BulkItemResult {
	var (
		p   *Process
		err error
	)

	switch req.Action {
	case BulkApprove:
		p, err = c.engine.Approve(ctx, item.ProcessID, item.ExpectedVersion, *req.Approve)
	case BulkReject:
		p, err = c.engine.Reject(ctx, item.ProcessID, item.ExpectedVersion, *req.Reject)
	case BulkAssign:
		p, err = c.engine.AssignReviewer(ctx, item.ProcessID, *req.ReviewerID, item.ExpectedVersion, req.Actor)
	}

	if err != nil {
		c.logger.Info("bulk item failed",
			zap.String("process_id", item.ProcessID.String()),
			zap.String("action", string(req.Action)),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
		return BulkItemResult{
			ProcessID: item.ProcessID,
			ErrorKind: KindOf(err),
			Error:     err.Error(),
		}
	}

	return BulkItemResult{ProcessID: item.ProcessID, Success: true, Version: p.Version}
}

func (c *BulkCoordinator) validate(req BulkRequest) error {
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Message: "must not be empty"}
	}
	switch req.Action {
	case BulkApprove:
		if req.Approve == nil {
			return &ValidationError{Field: "approve", Message: "approve parameters required"}
		}
	case BulkReject:
		if req.Reject == nil {
			return &ValidationError{Field: "reject", Message: "reject parameters required"}
		}
	case BulkAssign:
		if req.ReviewerID == nil {
			return &ValidationError{Field: "reviewer_id", Message: "reviewer required"}
		}
	default:
		return &ValidationError{Field: "action", Message: "unknown bulk action"}
	}
	return nil
}
