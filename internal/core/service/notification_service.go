package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

var ErrCheckInProgress = errors.New("notification check already in progress")

const (
	runLockName        = "run"
	runLockTTL         = 10 * time.Minute
	defaultListLimit   = 50
	maxListLimit       = 500
	defaultConcurrency = 5
)

// NotificationService runs the notification rules and serves the stored
// notifications. The cache is optional: without it, same-day deduplication
// rests on the store's unique key alone and overlapping runs are only
// prevented within this process.
type NotificationService struct {
	store       port.Store
	cache       port.CacheRepository
	rules       []Rule
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
	running     atomic.Bool
}

func NewNotificationService(store port.Store, cache port.CacheRepository, rules []Rule, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		store:       store,
		cache:       cache,
		rules:       rules,
		concurrency: defaultConcurrency,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *NotificationService) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

func (s *NotificationService) SetClock(now func() time.Time) {
	s.now = now
}

// RunAllChecks evaluates every rule against one snapshot and stores the
// resulting notifications, skipping any already raised today. It returns the
// number of new notifications per rule. A failing rule is reported in the
// returned error; the other rules still run and their counts are returned.
func (s *NotificationService) RunAllChecks(ctx context.Context) (map[string]int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCheckInProgress
	}
	defer s.running.Store(false)

	if s.cache != nil {
		token, err := s.cache.AcquireLock(ctx, runLockName, runLockTTL)
		switch {
		case err != nil:
			s.logger.Warn("run lock unavailable, continuing without it", zap.Error(err))
		case token == "":
			return nil, ErrCheckInProgress
		default:
			defer func() {
				if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), runLockName, token); err != nil {
					s.logger.Warn("failed to release run lock", zap.Error(err))
				}
			}()
		}
	}

	start := s.now()
	today := domain.DateOf(start)
	snap, err := s.store.RuleSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule snapshot: %w", err)
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]int, len(s.rules))
		errs   []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, rule := range s.rules {
		g.Go(func() error {
			created, err := s.runRule(ctx, rule, snap, today)

			mu.Lock()
			defer mu.Unlock()
			counts[rule.Name()] = created
			if err != nil {
				s.logger.Error("notification rule failed", zap.String("rule", rule.Name()), zap.Error(err))
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name(), err))
			}
			// Rule failures are collected, not returned, so the group keeps
			// running the rest.
			return nil
		})
	}
	g.Wait()

	s.logger.Info("notification checks finished",
		zap.Any("created", counts),
		zap.Int("failed_rules", len(errs)),
		zap.Duration("elapsed", time.Since(start)))
	return counts, errors.Join(errs...)
}

func (s *NotificationService) runRule(ctx context.Context, rule Rule, snap domain.RuleSnapshot, today domain.Date) (created int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var errs []error
	for _, n := range rule.Evaluate(snap, today) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := s.emit(ctx, n, today)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}

// emit stores n unless it was already raised today.
func (s *NotificationService) emit(ctx context.Context, n domain.Notification, today domain.Date) (bool, error) {
	n.CreatedDay = today
	key := n.DedupKey()

	claimed := false
	if s.cache != nil {
		ok, err := s.cache.SetIdempotency(ctx, key)
		switch {
		case err != nil:
			s.logger.Debug("dedup claim failed, relying on store", zap.String("key", key), zap.Error(err))
		case !ok:
			return false, nil
		default:
			claimed = true
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("notification id: %w", err)
	}
	n.ID = id.String()
	n.CreatedAt = s.now().UTC()

	inserted, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		if claimed {
			if derr := s.cache.DeleteIdempotency(context.WithoutCancel(ctx), key); derr != nil {
				s.logger.Warn("failed to release dedup claim", zap.String("key", key), zap.Error(derr))
			}
		}
		return false, fmt.Errorf("store %s notification for %s: %w", n.Type, n.ReferenceID, err)
	}
	return inserted, nil
}

// List returns notifications newest first, for one user or all when userID
// is empty.
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.store.ListNotifications(ctx, userID, limit)
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	if err := required("id", id); err != nil {
		return err
	}
	ok, err := s.store.MarkNotificationRead(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("notification", id)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}
