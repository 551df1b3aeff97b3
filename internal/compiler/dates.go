package compiler

import (
	"time"
)

const dateLayout = "2006-01-02"

// DatePhrase maps a relative date phrase to a concrete inclusive range
type DatePhrase struct {
	Phrase string
	Start  string
	End    string
}

// DatePhrases resolves the supported relative date phrases against now.
// Weeks start on Monday.
func DatePhrases(now time.Time) []DatePhrase {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)

	offset := (int(today.Weekday()) + 6) % 7
	weekStart := today.AddDate(0, 0, -offset)
	lastWeekStart := weekStart.AddDate(0, 0, -7)

	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	yearStart := time.Date(today.Year(), 1, 1, 0, 0, 0, 0, today.Location())

	return []DatePhrase{
		{Phrase: "today", Start: day(today), End: day(today)},
		{Phrase: "yesterday", Start: day(yesterday), End: day(yesterday)},
		{Phrase: "this week", Start: day(weekStart), End: day(weekStart.AddDate(0, 0, 6))},
		{Phrase: "last week", Start: day(lastWeekStart), End: day(lastWeekStart.AddDate(0, 0, 6))},
		{Phrase: "this month", Start: day(monthStart), End: day(monthStart.AddDate(0, 1, -1))},
		{Phrase: "last month", Start: day(lastMonthStart), End: day(monthStart.AddDate(0, 0, -1))},
		{Phrase: "this year", Start: day(yearStart), End: day(yearStart.AddDate(1, 0, -1))},
	}
}

func day(t time.Time) string {
	return t.Format(dateLayout)
}
