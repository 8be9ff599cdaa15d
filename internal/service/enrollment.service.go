package service

import (
	"context"
	"errors"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/infrastructure/notify"
	"academy-checkout/internal/repo"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type EnrollmentService interface {
	// Fulfill creates the enrollment for a paid order. It is idempotent per
	// (student, course): an existing active enrollment is returned unchanged.
	// Free orders are rejected with course_full when no seat is left; paid
	// orders are always honored.
	Fulfill(ctx context.Context, order *domain.Order) (*domain.Enrollment, error)
}

type enrollmentService struct {
	tx             repo.TxManager
	enrollmentRepo repo.EnrollmentRepo
	courseRepo     repo.CourseRepo
	notifier       notify.Dispatcher
	now            func() time.Time
}

func NewEnrollmentService(
	tx repo.TxManager,
	enrollmentRepo repo.EnrollmentRepo,
	courseRepo repo.CourseRepo,
	notifier notify.Dispatcher,
	now func() time.Time,
) EnrollmentService {
	if now == nil {
		now = time.Now
	}
	return &enrollmentService{
		tx:             tx,
		enrollmentRepo: enrollmentRepo,
		courseRepo:     courseRepo,
		notifier:       notifier,
		now:            now,
	}
}

func (s *enrollmentService) Fulfill(ctx context.Context, order *domain.Order) (*domain.Enrollment, error) {
	if order.Status != domain.OrderPaid {
		return nil, &domain.StateConflictError{OrderID: order.ID, From: order.Status, To: domain.OrderPaid}
	}

	existing, err := s.enrollmentRepo.FindActive(ctx, order.UserID, order.CourseID)
	if err != nil {
		return nil, domain.Persistence("find enrollment", err)
	}
	if existing != nil {
		s.logExisting(order, existing)
		return existing, nil
	}

	var enrollment *domain.Enrollment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		orderID := order.ID
		e := &domain.Enrollment{
			ID:         uuid.New(),
			StudentID:  order.UserID,
			CourseID:   order.CourseID,
			OrderID:    &orderID,
			Status:     domain.EnrollmentConfirmed,
			EnrolledAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.enrollmentRepo.CreateEnrollment(ctx, e); err != nil {
			if errors.Is(err, repo.ErrAlreadyEnrolled) {
				// lost a race with a concurrent fulfillment
				enrollment, err = s.enrollmentRepo.FindActive(ctx, order.UserID, order.CourseID)
				if err != nil {
					return domain.Persistence("find enrollment", err)
				}
				return nil
			}
			return domain.Persistence("create enrollment", err)
		}

		strict := order.PaymentMethod == domain.PaymentFree
		ok, err := s.courseRepo.IncrementEnrolled(ctx, order.CourseID, strict)
		if err != nil {
			return domain.Persistence("increment enrolled count", err)
		}
		if !ok {
			if strict {
				return &domain.BlockedError{Reason: domain.BlockCourseFull}
			}
			return domain.ErrCourseNotFound
		}

		course, err := s.courseRepo.FindById(ctx, order.CourseID)
		if err != nil {
			return domain.Persistence("reload course", err)
		}
		if course.Capacity != nil && course.EnrolledCount > *course.Capacity {
			log.Warn().
				Str("alert", "overcapacity").
				Str("order_id", order.ID.String()).
				Str("order_number", order.OrderNumber).
				Str("course_id", course.ID.String()).
				Int("capacity", *course.Capacity).
				Int("enrolled", course.EnrolledCount).
				Msg("paid enrollment honored above course capacity")
		}

		snap := order.Snapshot()
		snap.CourseTitle = course.Title
		recipient := order.CustomerEmail
		repo.AfterCommit(ctx, func() {
			s.notifier.Dispatch(domain.Notification{
				Kind:      domain.TemplateOrderConfirmation,
				Recipient: recipient,
				Order:     snap,
			})
		})

		enrollment = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, domain.Persistence("fulfill order", errors.New("enrollment vanished after conflict"))
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("enrollment_id", enrollment.ID.String()).
		Str("course_id", order.CourseID.String()).
		Msg("enrollment confirmed")
	return enrollment, nil
}

func (s *enrollmentService) logExisting(order *domain.Order, e *domain.Enrollment) {
	ev := log.Debug()
	if e.OrderID == nil || *e.OrderID != order.ID {
		ev = log.Warn()
	}
	ev.Str("order_id", order.ID.String()).
		Str("enrollment_id", e.ID.String()).
		Msg("active enrollment already exists, skipping")
}
