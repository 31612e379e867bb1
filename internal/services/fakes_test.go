package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/stretchr/testify/mock"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
}

func noSleep(context.Context, time.Duration) error { return nil }

// mockOracle is a testify mock of CompletionOracle
type mockOracle struct {
	mock.Mock
	name string
}

func (m *mockOracle) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockOracle) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

// scriptedOracle replies in order, repeating the last reply once exhausted
type scriptedOracle struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   []CompletionRequest
}

func (s *scriptedOracle) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, req)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if len(s.replies) == 0 {
		return "", err
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], err
}

func (s *scriptedOracle) Name() string { return "scripted" }

func (s *scriptedOracle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// judgeOracle answers the verification prompt from a question to letter table
type judgeOracle struct {
	mu      sync.Mutex
	answers map[string]string
	calls   int
}

func (j *judgeOracle) Complete(_ context.Context, req CompletionRequest) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	for q, letter := range j.answers {
		if strings.Contains(req.Prompt, "Question: "+q+"\n") {
			return letter, nil
		}
	}
	return "", contextutils.ErrAIRequestFailed
}

func (j *judgeOracle) Name() string { return "judge" }

// basisEmbedder maps every distinct text to its own unit basis vector, so
// distinct texts are orthogonal. aliases make texts share a vector.
type basisEmbedder struct {
	mu      sync.Mutex
	dim     int
	assign  map[string]int
	aliases map[string]string
	fail    error
}

func newBasisEmbedder() *basisEmbedder {
	return &basisEmbedder{dim: 128, assign: map[string]int{}, aliases: map[string]string{}}
}

func (b *basisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		key := strings.TrimSpace(t)
		if a, ok := b.aliases[key]; ok {
			key = a
		}
		idx, ok := b.assign[key]
		if !ok {
			idx = len(b.assign) % b.dim
			b.assign[key] = idx
		}
		v := make([]float32, b.dim)
		v[idx] = 1
		out[i] = v
	}
	return out, nil
}

// memQuizStore is an in-memory QuizStore
type memQuizStore struct {
	mu       sync.Mutex
	quizzes  map[string]*models.Quiz
	order    []string
	pool     []models.Item
	replaced int
}

func newMemQuizStore() *memQuizStore {
	return &memQuizStore{quizzes: map[string]*models.Quiz{}}
}

func cloneQuiz(q *models.Quiz) *models.Quiz {
	c := *q
	c.Items = append([]models.Item(nil), q.Items...)
	return &c
}

func (s *memQuizStore) Insert(_ context.Context, quiz *models.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; ok {
		return contextutils.ErrRecordExists
	}
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
	s.order = append(s.order, quiz.ID)
	return nil
}

func (s *memQuizStore) Get(_ context.Context, quizID string) (*models.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[quizID]
	if !ok {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "quiz %s not found", quizID)
	}
	return cloneQuiz(q), nil
}

func (s *memQuizStore) ReplaceItems(_ context.Context, quizID string, items []models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[quizID]
	if !ok {
		return contextutils.ErrRecordNotFound
	}
	q.Items = append([]models.Item(nil), items...)
	s.replaced++
	return nil
}

func (s *memQuizStore) RecentByOwner(_ context.Context, ownerID, limit int) ([]models.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Quiz
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		q := s.quizzes[s.order[i]]
		if q.OwnerID == ownerID {
			out = append(out, *cloneQuiz(q))
		}
	}
	return out, nil
}

func (s *memQuizStore) SampleItems(_ context.Context, difficulty models.Difficulty, n int, exclude []string) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	skip := map[string]bool{}
	for _, e := range exclude {
		skip[e] = true
	}
	var out []models.Item
	for _, it := range s.pool {
		if len(out) >= n {
			break
		}
		if !skip[it.Question] && it.Difficulty == difficulty {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memQuizStore) ListWithUnverified(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, id := range s.order {
		if len(ids) >= limit {
			break
		}
		if s.quizzes[id].HasUnverified() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memQuizStore) AllItems(_ context.Context) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, id := range s.order {
		out = append(out, s.quizzes[id].Items...)
	}
	return out, nil
}

func (s *memQuizStore) only() *models.Quiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) != 1 {
		panic(fmt.Sprintf("expected one quiz, have %d", len(s.order)))
	}
	return cloneQuiz(s.quizzes[s.order[0]])
}

// memAttemptStore is an in-memory AttemptStore
type memAttemptStore struct {
	mu       sync.Mutex
	attempts []models.Attempt
}

func (s *memAttemptStore) Insert(_ context.Context, a *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = len(s.attempts) + 1
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *memAttemptStore) CountForQuiz(_ context.Context, ownerID int, quizID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.OwnerID == ownerID && a.QuizID == quizID {
			n++
		}
	}
	return n, nil
}

func (s *memAttemptStore) Get(_ context.Context, ownerID int, quizID string, number int) (*models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.OwnerID == ownerID && a.QuizID == quizID && a.AttemptNumber == number {
			c := a
			c.Responses = append([]models.Response(nil), a.Responses...)
			return &c, nil
		}
	}
	return nil, contextutils.ErrRecordNotFound
}

func (s *memAttemptStore) ListByOwner(_ context.Context, ownerID, limit int) ([]models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Attempt
	for _, a := range s.attempts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memAbilityStore is an in-memory AbilityStore. names backs the usernames
// of LatestSummaries.
type memAbilityStore struct {
	mu      sync.Mutex
	records map[int]models.AbilityRecord
	names   map[int]string
	fail    error
}

func newMemAbilityStore() *memAbilityStore {
	return &memAbilityStore{records: map[int]models.AbilityRecord{}}
}

func (s *memAbilityStore) Create(_ context.Context, ownerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[ownerID]; !ok {
		s.records[ownerID] = *models.NewAbilityRecord(ownerID)
	}
	return nil
}

func (s *memAbilityStore) Get(_ context.Context, ownerID int) (*models.AbilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	rec, ok := s.records[ownerID]
	if !ok {
		return nil, contextutils.ErrRecordNotFound
	}
	rec.RecentQuizzes = append([]models.QuizSummary(nil), rec.RecentQuizzes...)
	return &rec, nil
}

func (s *memAbilityStore) Replace(_ context.Context, rec *models.AbilityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.OwnerID] = *rec
	return nil
}

func (s *memAbilityStore) LatestSummaries(context.Context) ([]models.LatestSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var out []models.LatestSummary
	for id, rec := range s.records {
		if n := len(rec.RecentQuizzes); n > 0 {
			out = append(out, models.LatestSummary{OwnerID: id, Username: s.names[id], Summary: rec.RecentQuizzes[n-1]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// memUserStore is an in-memory UserStore
type memUserStore struct {
	mu    sync.Mutex
	users map[int]*models.User
}

func newMemUserStore(ids ...int) *memUserStore {
	s := &memUserStore{users: map[int]*models.User{}}
	for _, id := range ids {
		s.users[id] = &models.User{ID: id, Username: fmt.Sprintf("user%d", id), Email: fmt.Sprintf("user%d@example.com", id)}
	}
	return s
}

func (s *memUserStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return nil, contextutils.ErrRecordExists
		}
	}
	c := *user
	c.ID = len(s.users) + 1
	s.users[c.ID] = &c
	return &c, nil
}

func (s *memUserStore) GetByID(_ context.Context, id int) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, contextutils.ErrRecordNotFound
	}
	c := *u
	return &c, nil
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, contextutils.ErrRecordNotFound
}

// countingDispatcher records dispatched quiz ids
type countingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *countingDispatcher) Dispatch(quizID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, quizID)
}

// fixedSeeds always returns the same corpus entry. clusters backs ByCluster.
type fixedSeeds struct {
	entry    *models.CorpusEntry
	clusters map[string][]models.CorpusEntry
	err      error
}

func (f fixedSeeds) RandomEntry(context.Context) (*models.CorpusEntry, error) {
	return f.entry, f.err
}

func (f fixedSeeds) ByCluster(_ context.Context, cluster string) ([]models.CorpusEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.CorpusEntry(nil), f.clusters[cluster]...), nil
}

func testItem(question, claimed string) models.Item {
	return models.Item{
		Question: question,
		Options: models.Options{
			"A": question + " option one",
			"B": question + " option two",
			"C": question + " option three",
			"D": question + " option four",
			"E": question + " option five",
		},
		Answer:     models.Unverified(claimed),
		Difficulty: models.DifficultyMedium,
	}
}

// mcqText renders items the way a well behaved model replies
func mcqText(questions ...string) string {
	var b strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&b, "Question %d: %s\n", i+1, q)
		for _, l := range models.OptionLetters {
			fmt.Fprintf(&b, "%s) %s choice %s\n", l, q, strings.ToLower(l))
		}
		b.WriteString("Correct Answer: B\n\n")
	}
	return b.String()
}

func testGenerationConfig() config.GenerationConfig {
	return config.GenerationConfig{
		Subject:              "biology",
		BatchSize:            5,
		MaxRetriesAdaptive:   5,
		MaxRetriesStandard:   3,
		MaxFailedBatches:     5,
		ContextSize:          3,
		ContextWindow:        2048,
		MaxCompletionTokens:  768,
		TokenReserve:         10,
		Temperature:          0.8,
		TopP:                 0.95,
		DefaultQuestionCount: 10,
		MaxQuestionCount:     50,
	}
}

func testDedupConfig() config.DedupConfig {
	return config.DedupConfig{
		GlobalThreshold:  0.85,
		BatchThreshold:   0.85,
		HistoryThreshold: 0.65,
		GlobalNeighbors:  5,
		HistoryQuizzes:   1,
	}
}
