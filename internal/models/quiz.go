package models

import "time"

// QuizMode records how a quiz's distribution was chosen
type QuizMode string

const (
	QuizModeAdaptive QuizMode = "adaptive"
	QuizModeStandard QuizMode = "standard"
	QuizModeTopic    QuizMode = "topic"
)

// Distribution maps each band to the number of items requested
type Distribution map[Difficulty]int

// Total returns the number of items across all bands
func (d Distribution) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// Quiz is a persisted set of items owned by one user. Topic names the corpus
// cluster that steered a topic quiz.
type Quiz struct {
	ID           string       `json:"quiz_id"`
	OwnerID      int          `json:"user_id"`
	Mode         QuizMode     `json:"mode"`
	Topic        string       `json:"topic,omitempty"`
	Distribution Distribution `json:"distribution"`
	Items        []Item       `json:"questions"`
	CreatedAt    time.Time    `json:"created_at"`
}

// HasUnverified reports whether any item still lacks an authoritative answer
func (q *Quiz) HasUnverified() bool {
	for _, it := range q.Items {
		if !it.Answer.IsVerified() {
			return true
		}
	}
	return false
}

// QuizResponse is the generation boundary returned to clients
type QuizResponse struct {
	QuizID         string       `json:"quiz_id"`
	Topic          string       `json:"topic,omitempty"`
	TotalQuestions int          `json:"total_questions"`
	Items          []PublicItem `json:"mcqs"`
}

// NewQuizResponse builds the client view of q
func NewQuizResponse(q *Quiz) QuizResponse {
	items := make([]PublicItem, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, it.Public())
	}
	return QuizResponse{QuizID: q.ID, Topic: q.Topic, TotalQuestions: len(items), Items: items}
}

// NotAnswered is stored as the selection for skipped questions
const NotAnswered = "Not Answered"

// Response is one graded answer within an attempt
type Response struct {
	Question       string     `json:"question"`
	SelectedAnswer string     `json:"selected_answer"`
	ClaimedAnswer  string     `json:"claimed_answer"`
	VerifiedAnswer *string    `json:"verified_answer"`
	CorrectAnswer  string     `json:"correct_answer"`
	IsCorrect      bool       `json:"is_correct"`
	TimeTaken      float64    `json:"time_taken"`
	Difficulty     Difficulty `json:"difficulty"`
	Options        Options    `json:"options,omitempty"`
}

// Summary aggregates one attempt
type Summary struct {
	TotalQuestions     int     `json:"total_questions"`
	Correct            int     `json:"correct"`
	Incorrect          int     `json:"incorrect"`
	Accuracy           float64 `json:"accuracy"`
	TotalTime          float64 `json:"total_time"`
	AvgTimePerQuestion float64 `json:"avg_time_per_question"`
}

// Attempt is one graded submission of a quiz
type Attempt struct {
	ID            int        `json:"response_id"`
	QuizID        string     `json:"quiz_id"`
	OwnerID       int        `json:"user_id"`
	AttemptNumber int        `json:"attempt_number"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	Responses     []Response `json:"responses"`
	Summary       Summary    `json:"summary"`
}

// QuizSummary is one entry of the rolling ability history
type QuizSummary struct {
	Accuracy  float64   `json:"accuracy"`
	TotalTime float64   `json:"total_time"`
	Timestamp time.Time `json:"timestamp"`
}

// LatestSummary is the newest history entry of one learner
type LatestSummary struct {
	OwnerID  int         `json:"user_id"`
	Username string      `json:"username"`
	Summary  QuizSummary `json:"summary"`
}

// AbilityRecord is the per-user performance aggregate
type AbilityRecord struct {
	OwnerID          int                    `json:"user_id"`
	TotalQuizzes     int                    `json:"total_quizzes"`
	Accuracy         map[Difficulty]float64 `json:"accuracy"`
	TimeSpent        map[Difficulty]float64 `json:"time_spent"`
	RecentQuizzes    []QuizSummary          `json:"last_10_quizzes"`
	StrongestArea    *Difficulty            `json:"strongest_area"`
	WeakestArea      *Difficulty            `json:"weakest_area"`
	ConsistencyScore float64                `json:"consistency_score"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// NewAbilityRecord returns the zeroed record created at registration
func NewAbilityRecord(ownerID int) *AbilityRecord {
	rec := &AbilityRecord{
		OwnerID:       ownerID,
		Accuracy:      make(map[Difficulty]float64, len(Difficulties)),
		TimeSpent:     make(map[Difficulty]float64, len(Difficulties)),
		RecentQuizzes: []QuizSummary{},
	}
	for _, d := range Difficulties {
		rec.Accuracy[d] = 0
		rec.TimeSpent[d] = 0
	}
	return rec
}

// CorpusEntry is a seed item used to steer generation with context
type CorpusEntry struct {
	ID            int        `json:"id"`
	Question      string     `json:"question"`
	CorrectAnswer string     `json:"correct_answer"`
	Cluster       string     `json:"cluster"`
	Difficulty    Difficulty `json:"difficulty"`
}
