package domain

import (
	"time"

	"github.com/google/uuid"
)

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentConfirmed EnrollmentStatus = "confirmed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Enrollment is never deleted; cancellation flips Status.
type Enrollment struct {
	ID         uuid.UUID
	StudentID  uuid.UUID
	CourseID   uuid.UUID
	OrderID    *uuid.UUID
	Status     EnrollmentStatus
	EnrolledAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
