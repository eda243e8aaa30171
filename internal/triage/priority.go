// Package triage ranks booked patients for the doctor queue.  Scores are a
// cheap keyword heuristic derived on every read; nothing here is persisted.
package triage

import (
	"sort"
	"strings"

	"diagnosure/pkg"
)

// MaxScore is the upper bound of a priority score.
const MaxScore = 100

const (
	highSeverityBonus   = 15
	mediumSeverityBonus = 5
	durationBonus       = 10
	onsetBonus          = 20
	elderlyBonus        = 10
	infantBonus         = 15
)

var urgencyBase = map[pkg.Urgency]int{
	pkg.UrgencyCritical: 100,
	pkg.UrgencyHigh:     75,
	pkg.UrgencyMedium:   50,
	pkg.UrgencyLow:      25,
}

var (
	highSeverityKeywords = []string{
		"severe", "intense", "unbearable", "emergency", "critical",
		"chest pain", "difficulty breathing", "unconscious", "bleeding heavily",
	}
	mediumSeverityKeywords = []string{
		"moderate", "persistent", "ongoing", "fever", "pain", "bleeding", "dizzy", "nausea",
	}
	durationKeywords = []string{"days", "weeks"}
	onsetKeywords    = []string{"sudden", "immediate"}
)

// Score computes the priority of a booking in [0, MaxScore].  It is a pure
// function of the booking.
func Score(b pkg.Booking) int {
	score, ok := urgencyBase[b.Urgency]
	if !ok {
		score = urgencyBase[pkg.UrgencyLow]
	}

	complaints := make([]string, 0, len(b.Symptoms)+1)
	complaints = append(complaints, b.Symptoms...)
	complaints = append(complaints, b.Note)
	for _, c := range complaints {
		score += severityBonus(strings.ToLower(c))
	}

	all := strings.ToLower(strings.Join(complaints, " "))
	if containsAny(all, durationKeywords) {
		score += durationBonus
	}
	if containsAny(all, onsetKeywords) {
		score += onsetBonus
	}

	if b.Age >= 65 {
		score += elderlyBonus
	}
	if b.Age >= 0 && b.Age <= 5 {
		score += infantBonus
	}

	if score > MaxScore {
		return MaxScore
	}
	return score
}

// severityBonus scores one complaint by its most severe descriptor.  Each
// recorded symptom and the note are separate complaints and add up.
func severityBonus(complaint string) int {
	if complaint == "" {
		return 0
	}
	if containsAny(complaint, highSeverityKeywords) {
		return highSeverityBonus
	}
	if containsAny(complaint, mediumSeverityKeywords) {
		return mediumSeverityBonus
	}
	return 0
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Rank orders bookings by non-increasing score.  Bookings with equal scores
// keep their input order.  The input slice is not modified.
func Rank(bookings []pkg.Booking) []pkg.RankedBooking {
	ranked := make([]pkg.RankedBooking, len(bookings))
	for i, b := range bookings {
		ranked[i] = pkg.RankedBooking{Booking: b, Score: Score(b)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Stats summarises a queue.  today is the date string, in the bookings'
// YYYY-MM-DD form, counted as today's appointments.
func Stats(bookings []pkg.Booking, today string) pkg.QueueStats {
	stats := pkg.QueueStats{Total: len(bookings)}
	for _, b := range bookings {
		if b.Status == pkg.StatusPending {
			stats.Pending++
		}
		if b.Urgency == pkg.UrgencyCritical {
			stats.Critical++
		}
		if b.Date == today {
			stats.Today++
		}
	}
	return stats
}
