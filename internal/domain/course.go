package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CourseType string

const (
	CourseCertification CourseType = "certification"
	CourseWorkshop      CourseType = "workshop"
	CourseTasting       CourseType = "tasting"
)

type CourseStatus string

const (
	CourseDraft      CourseStatus = "draft"
	CourseAnnounced  CourseStatus = "announced"
	CourseEnrolling  CourseStatus = "enrolling"
	CourseFull       CourseStatus = "full"
	CourseInProgress CourseStatus = "in_progress"
	CourseFinished   CourseStatus = "finished"
	CourseAvailable  CourseStatus = "available"
)

// AcceptsEnrollment reports whether the lifecycle tag allows new students.
func (s CourseStatus) AcceptsEnrollment() bool {
	switch s {
	case CourseAnnounced, CourseEnrolling, CourseAvailable:
		return true
	}
	return false
}

type Modality string

const (
	ModalityInPerson Modality = "in_person"
	ModalityOnline   Modality = "online"
)

type Course struct {
	ID            uuid.UUID
	Slug          string
	Title         string
	Type          CourseType
	Price         decimal.Decimal
	Currency      string
	Capacity      *int
	EnrolledCount int
	Status        CourseStatus
	Modality      Modality
	StartDate     *time.Time
	EndDate       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SeatsLeft returns the remaining seats, or -1 when the course has no capacity limit.
func (c *Course) SeatsLeft() int {
	if c.Capacity == nil {
		return -1
	}
	left := *c.Capacity - c.EnrolledCount
	if left < 0 {
		return 0
	}
	return left
}

// BlockReason returns why a new enrollment is not possible, or "" when it is.
// Order of checks: finished, not open, full.
func (c *Course) BlockReason() BlockReason {
	switch {
	case c.Status == CourseFinished:
		return BlockCourseFinished
	case c.Status == CourseFull:
		return BlockCourseFull
	case !c.Status.AcceptsEnrollment():
		return BlockCourseNotOpen
	case c.SeatsLeft() == 0:
		return BlockCourseFull
	}
	return ""
}
