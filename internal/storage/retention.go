package storage

import (
	"sort"
	"time"

	"github.com/xroad-catalogue/collector/internal/catalogue"
)

func hourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func yearStart(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
}

// addMonths shifts a month-start by a signed number of months. AddDate is
// avoided because it normalizes overflow days instead of clamping.
func addMonths(t time.Time, amount int) time.Time {
	months := int(t.Month()) - 1 + amount
	year := t.Year() + months/12
	month := months % 12
	if month < 0 {
		month += 12
		year--
	}
	return time.Date(year, time.Month(month+1), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

type bucketed struct {
	time    time.Time
	version catalogue.Version
}

// addBucket records the version under the bucket key when the bucket is in
// range and the version is the earliest seen for it. The first version of a
// bucket wins, not the last one before the bucket changed.
func addBucket(buckets map[time.Time]bucketed, key time.Time, v catalogue.Version, minTime *time.Time) {
	if minTime != nil && key.Before(*minTime) {
		return
	}
	current, ok := buckets[key]
	if !ok || v.ReportTime.Before(current.time) {
		buckets[key] = bucketed{time: v.ReportTime, version: v}
	}
}

// FilteredHistory thins the full version history to a size-bounded summary:
// the first version of each of the most recent hour, day and month buckets,
// the first version of every calendar year, and always the latest version.
// The result is deduplicated by report path and sorted oldest first.
func FilteredHistory(history []catalogue.Version, now time.Time, hours, days, months int) []catalogue.Version {
	if len(history) == 0 {
		return nil
	}

	minHour := hourStart(now).Add(-time.Duration(hours) * time.Hour)
	minDay := dayStart(now).AddDate(0, 0, -days)
	minMonth := addMonths(monthStart(now), -months)

	buckets := make(map[time.Time]bucketed)
	latest := history[0]
	for _, v := range history {
		if v.ReportTime.After(latest.ReportTime) {
			latest = v
		}
		addBucket(buckets, hourStart(v.ReportTime), v, &minHour)
		addBucket(buckets, dayStart(v.ReportTime), v, &minDay)
		addBucket(buckets, monthStart(v.ReportTime), v, &minMonth)
		addBucket(buckets, yearStart(v.ReportTime), v, nil)
	}

	unique := map[string]catalogue.Version{latest.ReportPath: latest}
	for _, b := range buckets {
		unique[b.version.ReportPath] = b.version
	}

	filtered := make([]catalogue.Version, 0, len(unique))
	for _, v := range unique {
		filtered = append(filtered, v)
	}
	catalogue.SortVersions(filtered)
	return filtered
}

// ReportsToKeep decides which version files survive a cleanup pass: the
// latest version, every version at or after freshTime, the first version of
// each older calendar day and the first version of each calendar year. The
// returned paths are sorted.
func ReportsToKeep(history []catalogue.Version, freshTime time.Time) []string {
	if len(history) == 0 {
		return nil
	}

	latest := history[0]
	for _, v := range history {
		if v.ReportTime.After(latest.ReportTime) {
			latest = v
		}
	}

	keep := map[string]struct{}{latest.ReportPath: {}}
	buckets := make(map[time.Time]bucketed)
	for _, v := range history {
		if !v.ReportTime.Before(freshTime) {
			keep[v.ReportPath] = struct{}{}
		} else {
			addBucket(buckets, dayStart(v.ReportTime), v, nil)
		}
		addBucket(buckets, yearStart(v.ReportTime), v, nil)
	}
	for _, b := range buckets {
		keep[b.version.ReportPath] = struct{}{}
	}

	paths := make([]string, 0, len(keep))
	for path := range keep {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// CleanupDue reports whether enough days have passed since the last cleanup
// for another pass to run. The interval is measured against the day the
// last cleanup started, so a daily collection schedule does not drift.
func CleanupDue(lastCleanup time.Time, intervalDays int, now time.Time) bool {
	if lastCleanup.IsZero() {
		return true
	}
	return !now.AddDate(0, 0, -intervalDays).Before(dayStart(lastCleanup))
}
