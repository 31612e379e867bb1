package irt

import (
	"math/rand"
	"sync"
	"time"

	"mcqgen/internal/models"
)

// Guessing is the fixed pseudo-guessing parameter for five options
const Guessing = 0.2

// Discrimination bounds
const (
	MinDiscrimination = 0.5
	MaxDiscrimination = 2.0
)

// Band is the closed interval b is drawn from, relative to theta
type Band struct {
	Low, High float64
}

// Bands gives the difficulty offsets around theta per level
var Bands = map[models.Difficulty]Band{
	models.DifficultyEasy:   {Low: -1.0, High: -0.2},
	models.DifficultyMedium: {Low: -0.3, High: 0.3},
	models.DifficultyHard:   {Low: 0.2, High: 1.0},
}

// Assigner draws item parameters. It is safe for concurrent use.
type Assigner struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewAssigner returns an Assigner seeded from the clock
func NewAssigner() *Assigner {
	return NewAssignerWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewAssignerWithSource returns an Assigner drawing from src
func NewAssignerWithSource(src rand.Source) *Assigner {
	return &Assigner{rng: rand.New(src)}
}

// Assign draws b inside the band around theta for difficulty, and a uniformly
// in the discrimination range. Unknown difficulties get b = 0.
func (a *Assigner) Assign(theta float64, difficulty models.Difficulty) models.ItemParams {
	a.mu.Lock()
	defer a.mu.Unlock()

	params := models.ItemParams{C: Guessing}
	if band, ok := Bands[difficulty]; ok {
		params.B = a.uniform(theta+band.Low, theta+band.High)
	}
	params.A = a.uniform(MinDiscrimination, MaxDiscrimination)
	return params
}

func (a *Assigner) uniform(low, high float64) float64 {
	return low + a.rng.Float64()*(high-low)
}
