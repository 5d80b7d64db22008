package maintenance

import (
	"errors"
	"time"

	"github.com/netresearch/go-cron"

	"github.com/younsl/eksup/api/v1alpha1"
)

var CronjobDefaultOption = cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow

type WindowResult struct {
	Allowed          bool
	NextWindowStart  *time.Time
	CurrentWindowEnd *time.Time
}

// CheckWindow reports whether now falls inside any configured window. No
// windows means always allowed. Outside all windows the result carries the
// earliest upcoming start.
func CheckWindow(spec *v1alpha1.MaintenanceSpec, now time.Time) (*WindowResult, error) {
	if spec == nil || len(spec.Windows) == 0 {
		return &WindowResult{Allowed: true}, nil
	}

	var earliestNext *time.Time

	for _, window := range spec.Windows {
		result, err := checkSingleWindow(window, now)
		if err != nil {
			return nil, err
		}
		if result.Allowed {
			return result, nil
		}
		if result.NextWindowStart != nil && (earliestNext == nil || result.NextWindowStart.Before(*earliestNext)) {
			earliestNext = result.NextWindowStart
		}
	}

	return &WindowResult{
		Allowed:         false,
		NextWindowStart: earliestNext,
	}, nil
}

func checkSingleWindow(window v1alpha1.WindowSpec, now time.Time) (*WindowResult, error) {
	location, err := time.LoadLocation(window.Timezone)
	if err != nil {
		return nil, err
	}
	specParser := cron.MustNewParser(CronjobDefaultOption)
	sched, err := specParser.Parse(window.Start)
	if err != nil {
		return nil, err
	}

	localNow := now.In(location)
	lastFire := lastFireTime(sched, localNow)

	if !lastFire.IsZero() {
		windowEnd := lastFire.Add(window.Duration.Duration)
		if localNow.Before(windowEnd) {
			return &WindowResult{
				Allowed:          true,
				CurrentWindowEnd: &windowEnd,
			}, nil
		}
	}

	next := sched.Next(localNow)
	return &WindowResult{
		Allowed:         false,
		NextWindowStart: &next,
	}, nil
}

func lastFireTime(sched cron.Schedule, now time.Time) time.Time {
	cursor := sched.Next(now.Add(-7 * 24 * time.Hour))
	var lastFire time.Time
	for !cursor.After(now) {
		lastFire = cursor
		cursor = sched.Next(cursor)
	}
	return lastFire
}

// ValidateWindows checks every window for parse and bound problems, for
// admission-time validation. The returned strings are advisory warnings.
func ValidateWindows(spec *v1alpha1.MaintenanceSpec) ([]string, error) {
	if spec == nil || len(spec.Windows) == 0 {
		return nil, nil
	}
	var warnings []string
	for _, window := range spec.Windows {
		warn, err := validateWindow(&window)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, warn...)
	}
	return warnings, nil
}

func validateWindow(window *v1alpha1.WindowSpec) ([]string, error) {
	var warnings []string

	_, err := time.LoadLocation(window.Timezone)
	if err != nil {
		return nil, err
	}
	specParser := cron.NewParser(CronjobDefaultOption)
	_, err = specParser.Parse(window.Start)
	if err != nil {
		return nil, err
	}
	if window.Duration.Duration <= 0 {
		return nil, errors.New("duration must be positive")
	}
	if window.Duration.Duration > 168*time.Hour {
		return nil, errors.New("duration must not exceed 7 days (168h)")
	}
	if window.Duration.Duration < time.Hour {
		warnings = append(warnings, "maintenance window duration < 1h: may not be enough time to complete a control plane step")
	}
	return warnings, nil
}
