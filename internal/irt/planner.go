package irt

import (
	"math"

	"mcqgen/internal/models"
)

// RecentQuizzes is how many of the owner's latest quizzes the planner reads
const RecentQuizzes = 3

// ItemOutcome is one previously served item and whether the owner's first
// attempt answered it correctly
type ItemOutcome struct {
	Difficulty models.Difficulty
	Correct    bool
}

// StandardDistribution is the fixed split for non-adaptive quizzes
func StandardDistribution() models.Distribution {
	return models.Distribution{
		models.DifficultyEasy:   8,
		models.DifficultyMedium: 6,
		models.DifficultyHard:   6,
	}
}

// ScaledStandardDistribution splits total in the standard proportions
func ScaledStandardDistribution(total int) models.Distribution {
	if total < 0 {
		total = 0
	}
	std := StandardDistribution()
	all := float64(std.Total())
	easy := int(math.RoundToEven(float64(std[models.DifficultyEasy]) / all * float64(total)))
	medium := int(math.RoundToEven(float64(std[models.DifficultyMedium]) / all * float64(total)))
	if easy+medium > total {
		medium = total - easy
	}
	return models.Distribution{
		models.DifficultyEasy:   easy,
		models.DifficultyMedium: medium,
		models.DifficultyHard:   total - easy - medium,
	}
}

// PlanDistribution splits total across the bands from recent outcomes.
// Counts start at one per band so an empty history is well defined.
func PlanDistribution(outcomes []ItemOutcome, total int) models.Distribution {
	if total < 0 {
		total = 0
	}

	correct := map[models.Difficulty]float64{}
	seen := map[models.Difficulty]float64{
		models.DifficultyEasy:   1,
		models.DifficultyMedium: 1,
		models.DifficultyHard:   1,
	}
	for _, o := range outcomes {
		d := o.Difficulty
		if !d.Valid() {
			d = models.DifficultyMedium
		}
		seen[d]++
		if o.Correct {
			correct[d]++
		}
	}

	easyAcc := correct[models.DifficultyEasy] / seen[models.DifficultyEasy]
	mediumAcc := correct[models.DifficultyMedium] / seen[models.DifficultyMedium]
	hardAcc := correct[models.DifficultyHard] / seen[models.DifficultyHard]

	var easyRatio, mediumRatio, hardRatio float64
	switch {
	case easyAcc > 0.8:
		easyRatio = 0.1
	case easyAcc < 0.5:
		easyRatio = 0.4
	default:
		easyRatio = 0.2
	}
	switch {
	case mediumAcc > 0.7:
		mediumRatio = 0.5
	case mediumAcc < 0.4:
		mediumRatio = 0.3
	default:
		mediumRatio = 0.4
	}
	switch {
	case hardAcc > 0.6:
		hardRatio = 0.4
	case hardAcc < 0.4:
		hardRatio = 0.3
	default:
		hardRatio = 0.2
	}

	sum := easyRatio + mediumRatio + hardRatio
	easy := int(math.RoundToEven(easyRatio / sum * float64(total)))
	medium := int(math.RoundToEven(mediumRatio / sum * float64(total)))
	if easy+medium > total {
		medium = total - easy
	}

	return models.Distribution{
		models.DifficultyEasy:   easy,
		models.DifficultyMedium: medium,
		models.DifficultyHard:   total - easy - medium,
	}
}
