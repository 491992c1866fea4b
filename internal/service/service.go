package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"garmentledger/backend/internal/costing"
	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/idempotency"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/xid"
)

type Options struct {
	// WholesaleReceiverID confirms transfers created by batch completion.
	// When empty only an owner can confirm them.
	WholesaleReceiverID string
	CostAverageWindow   int
	Guard               idempotency.Guard
	Now                 func() time.Time
}

type Service struct {
	repo              store.Repository
	log               *zap.Logger
	guard             idempotency.Guard
	costs             costing.Averager
	wholesaleReceiver string
	now               func() time.Time
}

func New(repo store.Repository, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Guard == nil {
		opts.Guard = idempotency.NoopGuard{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:              repo,
		log:               log.Named("service"),
		guard:             opts.Guard,
		costs:             costing.NewAverager(opts.CostAverageWindow),
		wholesaleReceiver: opts.WholesaleReceiverID,
		now:               opts.Now,
	}
}

var (
	ownerOnly        = []domain.Role{domain.RoleOwner}
	productionRoles  = []domain.Role{domain.RoleProductionManager, domain.RoleOwner}
	salesRoles       = []domain.Role{domain.RoleDistributor, domain.RoleOwner}
	anyAuthenticated = []domain.Role{domain.RoleOwner, domain.RoleProductionManager, domain.RoleDistributor}
)

// operation describes one audited ledger mutation.
type operation struct {
	action   string
	module   string
	entity   string
	entityID string
	key      string
	roles    []domain.Role
	// validate runs before the transaction opens.
	validate func() error
}

// auditNote is filled in by the operation body and becomes the audit
// description.
type auditNote struct {
	entityID    string
	description string
}

func (n *auditNote) set(entityID string, format string, args ...any) {
	if entityID != "" {
		n.entityID = entityID
	}
	n.description = fmt.Sprintf(format, args...)
}

// run authorizes, validates, and executes fn inside one transaction. A
// stored idempotency record short-circuits fn and replays its result. On
// failure nothing from fn persists and a failure audit row is written
// after the rollback.
func run[T any, PT interface {
	*T
	MarkDuplicate()
}](ctx context.Context, s *Service, actor domain.Actor, op operation, fn func(tx store.Tx, note *auditNote) (T, error)) (T, error) {
	note := &auditNote{entityID: op.entityID}
	result, err := execute[T, PT](ctx, s, actor, op, note, fn)
	if err != nil {
		s.auditFailure(ctx, actor, op, note, err)
		var zero T
		return zero, err
	}
	return result, nil
}

func execute[T any, PT interface {
	*T
	MarkDuplicate()
}](ctx context.Context, s *Service, actor domain.Actor, op operation, note *auditNote, fn func(tx store.Tx, note *auditNote) (T, error)) (T, error) {
	var result T
	if err := authorize(actor, op.roles...); err != nil {
		return result, err
	}
	if op.validate != nil {
		if err := op.validate(); err != nil {
			return result, err
		}
	}

	key := scopedKey(actor, op.key)
	if key != "" {
		release, err := s.guard.Acquire(ctx, key)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			return result, store.Wrapf(store.ErrDuplicate, "request %s is already in progress", op.key)
		case err != nil:
			s.log.Warn("idempotency guard unavailable; relying on stored records", zap.String("key", key), zap.Error(err))
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("release idempotency guard", zap.String("key", key), zap.Error(err))
				}
			}()
		}
	}

	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		result = *new(T)
		if key != "" {
			rec, err := tx.FindIdempotencyRecord(ctx, key)
			switch {
			case err == nil:
				if rec.ActorID != actor.UserID {
					return store.Wrapf(store.ErrConsistency, "idempotency key %s belongs to another user", op.key)
				}
				if rec.Operation != op.action {
					return store.Validationf("idempotency key %s was already used for %s", op.key, rec.Operation)
				}
				if err := json.Unmarshal(rec.Response, &result); err != nil {
					return fmt.Errorf("decode stored response for %s: %w", op.key, err)
				}
				PT(&result).MarkDuplicate()
				note.description = "replayed idempotent request " + op.key
				return tx.CreateAuditLog(ctx, s.auditEntry(actor, op, note, true))
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		out, err := fn(tx, note)
		if err != nil {
			return err
		}
		result = out

		if key != "" {
			payload, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("encode response for %s: %w", op.key, err)
			}
			if err := tx.SaveIdempotencyRecord(ctx, domain.IdempotencyRecord{
				Key:       key,
				Operation: op.action,
				ActorID:   actor.UserID,
				Response:  payload,
				CreatedAt: s.now(),
			}); err != nil {
				return err
			}
		}
		return tx.CreateAuditLog(ctx, s.auditEntry(actor, op, note, true))
	})
	return result, err
}

// scopedKey namespaces a client key by user so two users never share a
// stored result.
func scopedKey(actor domain.Actor, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return actor.UserID + ":" + key
}

func authorize(actor domain.Actor, roles ...domain.Role) error {
	if actor.UserID == "" || !actor.Role.Valid() {
		return store.Permissionf("authenticated actor required")
	}
	if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
		return store.Permissionf("role %s may not perform this operation", actor.Role)
	}
	return nil
}

func (s *Service) auditEntry(actor domain.Actor, op operation, note *auditNote, success bool) domain.AuditLog {
	return domain.AuditLog{
		ID:          xid.New("audit"),
		ActorID:     actor.UserID,
		ActorRole:   actor.Role,
		Action:      op.action,
		Module:      op.module,
		EntityType:  op.entity,
		EntityID:    note.entityID,
		Description: note.description,
		Success:     success,
		Origin:      actor.Origin,
		CreatedAt:   s.now(),
	}
}

func (s *Service) auditFailure(ctx context.Context, actor domain.Actor, op operation, note *auditNote, cause error) {
	note.description = fmt.Sprintf("failed: %v", cause)
	entry := s.auditEntry(actor, op, note, false)
	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Warn("write failure audit",
			zap.String("action", op.action),
			zap.String("entity_id", note.entityID),
			zap.Error(err),
		)
	}
	s.log.Info("operation rejected",
		zap.String("action", op.action),
		zap.String("actor_id", actor.UserID),
		zap.String("kind", string(store.Kind(cause))),
		zap.Error(cause),
	)
}

// AuditUnauthenticated records a request that never produced an actor.
func (s *Service) AuditUnauthenticated(ctx context.Context, origin string, action string, reason string) {
	entry := domain.AuditLog{
		ID:          xid.New("audit"),
		Action:      action,
		Module:      "auth",
		Description: reason,
		Origin:      origin,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Warn("write unauthenticated audit", zap.String("action", action), zap.Error(err))
	}
}

// AuditRejected records a request from a known actor that failed to bind
// before reaching a ledger operation.
func (s *Service) AuditRejected(ctx context.Context, actor domain.Actor, action string, module string, cause error) {
	op := operation{action: action, module: module}
	s.auditFailure(ctx, actor, op, &auditNote{}, cause)
}

func (s *Service) notify(ctx context.Context, tx store.Tx, n domain.Notification) error {
	n.ID = xid.New("ntf")
	n.CreatedAt = s.now()
	return tx.CreateNotification(ctx, n)
}

func (s *Service) view(ctx context.Context, actor domain.Actor, roles []domain.Role, fn func(r store.Reader) error) error {
	if err := authorize(actor, roles...); err != nil {
		return err
	}
	return s.repo.View(ctx, fn)
}

func (s *Service) ListAuditLogs(ctx context.Context, actor domain.Actor, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []domain.AuditLog
	err := s.view(ctx, actor, ownerOnly, func(r store.Reader) error {
		var err error
		logs, err = r.ListAuditLogs(ctx, limit)
		return err
	})
	return logs, err
}

func (s *Service) ListNotifications(ctx context.Context, actor domain.Actor, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var items []domain.Notification
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		var err error
		items, err = r.ListNotifications(ctx, actor.UserID, actor.Role, limit)
		return err
	})
	return items, err
}
