// Package irt holds the item response theory arithmetic behind adaptive quizzes:
// ability estimation, per-band distribution planning and 3PL parameter draws.
package irt

import (
	"math"

	"mcqgen/internal/models"
)

// HistorySize is the number of most recent quiz summaries that feed theta
const HistorySize = 10

// minAccuracy replaces a non-positive average where ln is undefined
const minAccuracy = 0.01

// EstimateTheta returns the ability estimate from the rolling quiz history.
// Summaries are oldest first; only the last HistorySize count.
func EstimateTheta(summaries []models.QuizSummary) float64 {
	if len(summaries) == 0 {
		return 0
	}
	if len(summaries) > HistorySize {
		summaries = summaries[len(summaries)-HistorySize:]
	}

	var totalAccuracy, totalTime float64
	for _, s := range summaries {
		totalAccuracy += s.Accuracy
		totalTime += s.TotalTime
	}
	n := float64(len(summaries))
	avgAccuracy := totalAccuracy / n
	avgTime := totalTime / n

	if avgAccuracy <= 0 {
		avgAccuracy = minAccuracy
	}

	theta := math.Log(avgAccuracy/math.Max(1, 100-avgAccuracy+1)) - TimePenalty(avgTime)
	return Round2(theta)
}

// TimePenalty discounts answers that look guessed or distracted
func TimePenalty(avgTime float64) float64 {
	switch {
	case avgTime < 3:
		return 0.3
	case avgTime < 7:
		return 0.2
	case avgTime < 90:
		return 0
	case avgTime < 120:
		return 0.1
	default:
		return 0.2
	}
}

// Round2 rounds half to even at two decimals
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
