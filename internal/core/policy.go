package core

import "fmt"

// Policy carries the tunable scheduling, SLA and reminder parameters.
type Policy struct {
	// RoundDurationDays derives a round's end date when no deadline is given.
	RoundDurationDays int `yaml:"round_duration_days"`
	// ReminderWindowDays is how far ahead of a CAPA target date reminders fire.
	ReminderWindowDays int `yaml:"reminder_window_days"`
	// SLADaysBySeverity maps CAPA severity (1-5) to its default SLA.
	SLADaysBySeverity map[int]int `yaml:"sla_days_by_severity"`
}

// DefaultPolicy returns the baseline policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		RoundDurationDays:  7,
		ReminderWindowDays: 2,
		SLADaysBySeverity: map[int]int{
			1: 60,
			2: 45,
			3: 30,
			4: 14,
			5: 7,
		},
	}
}

// SLADays resolves the default SLA for severity, falling back to 30 days.
func (p Policy) SLADays(severity int) int {
	if days, ok := p.SLADaysBySeverity[severity]; ok && days > 0 {
		return days
	}
	return 30
}

// Validate reports malformed policy values.
func (p Policy) Validate() error {
	if p.RoundDurationDays < 0 {
		return fmt.Errorf("round_duration_days must be >= 0, got %d", p.RoundDurationDays)
	}
	if p.ReminderWindowDays < 0 {
		return fmt.Errorf("reminder_window_days must be >= 0, got %d", p.ReminderWindowDays)
	}
	for severity, days := range p.SLADaysBySeverity {
		if severity < 1 || severity > 5 {
			return fmt.Errorf("sla_days_by_severity: severity %d out of range 1-5", severity)
		}
		if days <= 0 {
			return fmt.Errorf("sla_days_by_severity: severity %d must have positive days, got %d", severity, days)
		}
	}
	return nil
}

// Merge overlays non-zero fields of other onto p.
func (p Policy) Merge(other Policy) Policy {
	out := p
	if other.RoundDurationDays > 0 {
		out.RoundDurationDays = other.RoundDurationDays
	}
	if other.ReminderWindowDays > 0 {
		out.ReminderWindowDays = other.ReminderWindowDays
	}
	if len(other.SLADaysBySeverity) > 0 {
		merged := make(map[int]int, len(p.SLADaysBySeverity)+len(other.SLADaysBySeverity))
		for k, v := range p.SLADaysBySeverity {
			merged[k] = v
		}
		for k, v := range other.SLADaysBySeverity {
			merged[k] = v
		}
		out.SLADaysBySeverity = merged
	}
	return out
}
