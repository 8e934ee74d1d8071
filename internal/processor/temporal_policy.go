package processor

import (
	"time"

	"auditai/internal/domain"
)

const (
	CodeOutsideBusinessHours = "HOR001"
	CodeWeekend              = "HOR002"

	DefaultBusinessStartHour = 8
	DefaultBusinessEndHour   = 18
)

var (
	outsideHoursViolation = domain.Violation{
		Code:              CodeOutsideBusinessHours,
		Description:       "Transaction outside business hours",
		RelevantField:     "timestamp",
		Origin:            "Internal policy",
		RecommendedAction: "Review transactions made outside working hours",
		LegalBasis:        "Internal controls",
	}
	weekendViolation = domain.Violation{
		Code:              CodeWeekend,
		Description:       "Transaction made on a weekend",
		RelevantField:     "timestamp",
		Origin:            "Internal policy",
		RecommendedAction: "Confirm the operation was authorized",
		LegalBasis:        "Internal controls",
	}
)

// TemporalPolicy flags transactions made outside [StartHour, EndHour) or on a
// Saturday or Sunday, in the configured location.
type TemporalPolicy struct {
	startHour int
	endHour   int
	location  *time.Location
}

func NewTemporalPolicy(startHour, endHour int, location *time.Location) *TemporalPolicy {
	if location == nil {
		location = time.Local
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		startHour, endHour = DefaultBusinessStartHour, DefaultBusinessEndHour
	}
	return &TemporalPolicy{
		startHour: startHour,
		endHour:   endHour,
		location:  location,
	}
}

func (p *TemporalPolicy) Location() *time.Location {
	return p.location
}

func (p *TemporalPolicy) Check(ts time.Time) []domain.Violation {
	local := ts.In(p.location)

	var violations []domain.Violation
	if hour := local.Hour(); hour < p.startHour || hour >= p.endHour {
		violations = append(violations, outsideHoursViolation)
	}
	if day := local.Weekday(); day == time.Saturday || day == time.Sunday {
		violations = append(violations, weekendViolation)
	}
	return violations
}
