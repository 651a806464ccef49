/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
    "slices"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/robfig/cron/v3"
)

// Weekly fires at the top of every listed hour on every listed weekday.
// Weekdays follow time.Weekday (0 is Sunday).
type Weekly struct {
    days  []int
    hours []int
}

var _ cron.Schedule = Weekly{}

func NewWeekly(f config.Frequency) Weekly {
    w := Weekly{days: slices.Clone(f.DayOfWeek), hours: slices.Clone(f.HourOfDay)}
    slices.Sort(w.days)
    slices.Sort(w.hours)
    w.days = slices.Compact(w.days)
    w.hours = slices.Compact(w.hours)
    return w
}

// Due reports whether now falls inside a scheduled hour.
func (w Weekly) Due(now time.Time) bool {
    return slices.Contains(w.days, int(now.Weekday())) && slices.Contains(w.hours, now.Hour())
}

// Next returns the earliest scheduled hour strictly after now, in now's
// location. An empty schedule never fires and yields the zero time.
func (w Weekly) Next(now time.Time) time.Time {
    if len(w.days) == 0 || len(w.hours) == 0 { return time.Time{} }
    wd, h := int(now.Weekday()), now.Hour()
    if slices.Contains(w.days, wd) {
        for _, hh := range w.hours {
            if hh > h { return at(now, 0, hh) }
        }
    }
    for _, d := range w.days {
        if d > wd { return at(now, d-wd, w.hours[0]) }
    }
    return at(now, w.days[0]-wd+7, w.hours[0])
}

func at(now time.Time, offsetDays, hour int) time.Time {
    y, m, d := now.Date()
    return time.Date(y, m, d+offsetDays, hour, 0, 0, 0, now.Location())
}
