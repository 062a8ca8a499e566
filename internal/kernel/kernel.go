// Package kernel implements the Security/Audit Kernel of spec.md §4.5:
// every privileged operation is mediated through a non-queueing
// admission gate and wrapped in audit events, grounded on the
// teacher's agentexec server (bounded-concurrency request mediation)
// and pkg/audit's event lifecycle, using golang.org/x/sync/semaphore
// for the admission gate the way the teacher uses it to bound
// concurrent agent executions.
package kernel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/hearthd/hearthd/internal/audit"
	"github.com/hearthd/hearthd/internal/metrics"
	"github.com/hearthd/hearthd/internal/protocol"
)

// DefaultMaxConcurrentOperations is the admission semaphore's default
// capacity (spec.md §4.5).
const DefaultMaxConcurrentOperations = 10

// Operation is a unit of privileged work mediated by the kernel. It
// returns its result alongside any error; errors that should carry a
// specific JSON-RPC code must be *protocol.CodedError — the kernel
// never reinterprets or rewraps them (spec.md §9 open question 2). A
// panic inside Operation is recovered by Execute and converted to a
// −32603 CodedError rather than propagating (spec.md §7).
type Operation func(ctx context.Context) (interface{}, error)

// Kernel admits at most maxConcurrentOperations operations at a time,
// rejecting immediately rather than queueing when saturated, and
// records a structured audit trail around every mediated operation.
// sem is held behind an atomic.Pointer so SetCapacity can hot-swap it
// (SPEC_FULL.md §2.2's security.maxConcurrentOperations reload)
// without a lock: Execute captures its own reference once at
// admission time, so a capacity change mid-flight never causes a
// Release to land on a different semaphore instance than the one
// Acquire succeeded against.
type Kernel struct {
	sem      atomic.Pointer[semaphore.Weighted]
	capacity int64
	inUse    int64
	auditAll bool
	logger   audit.Logger
}

// Config configures a Kernel.
type Config struct {
	MaxConcurrentOperations int
	AuditAll                bool
	Logger                  audit.Logger
}

// New builds a Kernel. A nil Logger falls back to audit.GetLogger().
func New(cfg Config) *Kernel {
	capacity := cfg.MaxConcurrentOperations
	if capacity <= 0 {
		capacity = DefaultMaxConcurrentOperations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = audit.GetLogger()
	}
	metrics.Init()
	k := &Kernel{
		capacity: int64(capacity),
		auditAll: cfg.AuditAll,
		logger:   logger,
	}
	k.sem.Store(semaphore.NewWeighted(int64(capacity)))
	return k
}

// SetCapacity replaces the admission semaphore with one of capacity
// n, taking effect for every operation admitted from this point
// forward (SPEC_FULL.md §2.2). Operations already admitted keep
// holding their slot on the semaphore they acquired until they
// finish; they are not cancelled or resized.
func (k *Kernel) SetCapacity(n int) {
	if n <= 0 {
		n = DefaultMaxConcurrentOperations
	}
	atomic.StoreInt64(&k.capacity, int64(n))
	k.sem.Store(semaphore.NewWeighted(int64(n)))
}

// Execute mediates operation under the admission gate and audit trail
// described in spec.md §4.5: admission is non-queueing (TryAcquire,
// never Acquire) — a saturated kernel rejects with CodeResourceLocked
// (−30001) immediately rather than waiting for a slot.
func (k *Kernel) Execute(ctx context.Context, operationType string, opCtx map[string]interface{}, op Operation) (result interface{}, err error) {
	operationID := uuid.New().String()
	sem := k.sem.Load()

	if !sem.TryAcquire(1) {
		metrics.AdmissionRejections.Inc()
		metrics.OperationsTotal.WithLabelValues(operationType, "rejected").Inc()
		rejectErr := protocol.NewCodedError(protocol.CodeResourceLocked, "too many concurrent operations in progress", nil)
		k.emit(audit.Event{
			ID:            uuid.New().String(),
			OperationID:   operationID,
			OperationType: operationType,
			EventType:     audit.EventFailure,
			Context:       opCtx,
			Error:         rejectErr.Error(),
			Timestamp:     now(),
		})
		return nil, rejectErr
	}
	inUse := atomic.AddInt64(&k.inUse, 1)
	metrics.AdmissionInUse.Set(float64(inUse))
	defer func() {
		metrics.AdmissionInUse.Set(float64(atomic.AddInt64(&k.inUse, -1)))
		sem.Release(1)
	}()

	start := now()
	k.emit(audit.Event{
		ID:            uuid.New().String(),
		OperationID:   operationID,
		OperationType: operationType,
		EventType:     audit.EventStart,
		Context:       opCtx,
		Timestamp:     start,
	})

	// Recover a panicking operation handler rather than let it crash
	// the process (spec.md §7: unhandled exceptions surface as a
	// −32603 envelope). The normal error-handling path below is
	// bypassed entirely when a panic unwinds, so the failure audit
	// event and metrics update have to be duplicated here.
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		duration := time.Since(start)
		coded := protocol.NewCodedError(protocol.CodeInternalError, fmt.Sprintf("panic in operation handler: %v", r), nil)
		metrics.OperationsTotal.WithLabelValues(operationType, "panic").Inc()
		k.emit(audit.Event{
			ID:            uuid.New().String(),
			OperationID:   operationID,
			OperationType: operationType,
			EventType:     audit.EventFailure,
			Context:       opCtx,
			Error:         coded.Error(),
			DurationMS:    duration.Milliseconds(),
			Timestamp:     now(),
		})
		log.Error().Interface("panic", r).Str("operation_id", operationID).Str("operation_type", operationType).Msg("recovered panic in operation handler")
		result = nil
		err = coded
	}()

	opResult, opErr := op(ctx)
	duration := time.Since(start)

	if opErr != nil {
		code, message, _ := protocol.CodeOf(opErr)
		outcome := "failure"
		if code == protocol.CodeInsufficientPrivilege {
			outcome = "disallowed"
		}
		metrics.OperationsTotal.WithLabelValues(operationType, outcome).Inc()
		k.emit(audit.Event{
			ID:            uuid.New().String(),
			OperationID:   operationID,
			OperationType: operationType,
			EventType:     audit.EventFailure,
			Context:       opCtx,
			Error:         message,
			DurationMS:    duration.Milliseconds(),
			Timestamp:     now(),
		})
		return nil, opErr
	}

	metrics.OperationsTotal.WithLabelValues(operationType, "success").Inc()
	k.emit(audit.Event{
		ID:            uuid.New().String(),
		OperationID:   operationID,
		OperationType: operationType,
		EventType:     audit.EventSuccess,
		Context:       opCtx,
		DurationMS:    duration.Milliseconds(),
		Timestamp:     now(),
	})
	return opResult, nil
}

// emit writes an audit event unless auditAll is false and the event
// is a routine success/start (spec.md §4.5: failures are always
// audited; success/start auditing is gated by auditAll).
func (k *Kernel) emit(event audit.Event) {
	if !k.auditAll && event.EventType != audit.EventFailure {
		return
	}
	if k.logger == nil {
		return
	}
	if err := k.logger.Log(event); err != nil {
		log.Error().Err(err).Str("operation_type", event.OperationType).Msg("failed to write audit event")
	}
}

// InUse returns the number of admission slots currently occupied.
func (k *Kernel) InUse() int64 {
	return atomic.LoadInt64(&k.inUse)
}

// Capacity returns the admission semaphore's current capacity.
func (k *Kernel) Capacity() int64 {
	return atomic.LoadInt64(&k.capacity)
}

func now() time.Time { return time.Now() }
