package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// SectionStatus represents the admission availability of a course section.
type SectionStatus string

// Possible section statuses.
const (
	SectionStatusOpen     SectionStatus = "OPEN"
	SectionStatusFull     SectionStatus = "FULL"
	SectionStatusInactive SectionStatus = "INACTIVE"
)

// CourseSection is the capacity record admission decisions are made against.
// CurrentEnrollment and Version are only ever mutated through the
// version-checked updates in the section repository.
type CourseSection struct {
	ID                string        `db:"id" json:"id"`
	CourseCode        string        `db:"course_code" json:"course_code"`
	Title             string        `db:"title" json:"title"`
	Credits           int           `db:"credits" json:"credits"`
	Prerequisites     StringList    `db:"prerequisites" json:"prerequisites"`
	MaxCapacity       int           `db:"max_capacity" json:"max_capacity"`
	CurrentEnrollment int           `db:"current_enrollment" json:"current_enrollment"`
	Version           int64         `db:"version" json:"-"`
	Status            SectionStatus `db:"status" json:"status"`
	TimeSlots         []TimeSlot    `db:"-" json:"time_slots,omitempty"`
}

// SeatsLeft returns the number of unreserved seats.
func (s *CourseSection) SeatsLeft() int {
	return s.MaxCapacity - s.CurrentEnrollment
}

// TimeSlot is one scheduled meeting of a section. Times are minutes from
// midnight so overlap checks are plain integer comparisons.
type TimeSlot struct {
	ID          string `db:"id" json:"id"`
	SectionID   string `db:"section_id" json:"section_id"`
	DayOfWeek   int    `db:"day_of_week" json:"day_of_week"`
	StartMinute int    `db:"start_minute" json:"start_minute"`
	EndMinute   int    `db:"end_minute" json:"end_minute"`
}

// Overlaps reports whether two slots collide. Back-to-back slots sharing a
// boundary minute do not conflict.
func (t TimeSlot) Overlaps(other TimeSlot) bool {
	if t.DayOfWeek != other.DayOfWeek {
		return false
	}
	return t.StartMinute < other.EndMinute && t.EndMinute > other.StartMinute
}

// StringList stores a list of course codes as a JSON column.
type StringList []string

// Value marshals the list for persistence.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the list.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal string list: %w", err)
	}
	return nil
}
