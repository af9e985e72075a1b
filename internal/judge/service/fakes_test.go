package service

import (
	"bytes"
	"context"
	"io"
	"sync"

	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	problemRepo "codejudge/internal/problem/repository"
	"codejudge/internal/submit/repository"
)

type memorySubmissions struct {
	mu      sync.Mutex
	records map[string]*repository.Submission
	// order lists submission ids in creation order.
	order []string
}

func newMemorySubmissions() *memorySubmissions {
	return &memorySubmissions{records: make(map[string]*repository.Submission)}
}

func (m *memorySubmissions) CreatePending(_ context.Context, s *repository.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Status = model.SubmissionPending
	m.records[s.SubmissionID] = &cp
	m.order = append(m.order, s.SubmissionID)
	return nil
}

func (m *memorySubmissions) Finalize(_ context.Context, id string, o model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	if rec.Status.IsTerminal() {
		if rec.Outcome().Status == o.Status && rec.TestCasesPassed == o.PassedCount {
			return nil
		}
		return repository.ErrSubmissionFinalized
	}
	rec.Status = o.Status
	rec.TestCasesPassed = o.PassedCount
	rec.Runtime = o.TotalRuntime
	rec.Memory = o.PeakMemory
	rec.ErrorMessage = o.ErrorMessage
	rec.StallReason = ""
	return nil
}

func (m *memorySubmissions) MarkStalled(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok && rec.Status == model.SubmissionPending {
		rec.StallReason = reason
	}
	return nil
}

func (m *memorySubmissions) GetByID(_ context.Context, id string) (*repository.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memorySubmissions) only() *repository.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) != 1 {
		return nil
	}
	cp := *m.records[m.order[0]]
	return &cp
}

func (m *memorySubmissions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

type staticTestCases struct {
	hidden  map[int64][]model.TestCase
	visible map[int64][]model.VisibleTestCase
}

func (s *staticTestCases) GetHiddenTestCases(_ context.Context, problemID int64) ([]model.TestCase, error) {
	cases, ok := s.hidden[problemID]
	if !ok {
		return nil, problemRepo.ErrProblemNotFound
	}
	return cases, nil
}

func (s *staticTestCases) GetVisibleTestCases(_ context.Context, problemID int64) ([]model.VisibleTestCase, error) {
	cases, ok := s.visible[problemID]
	if !ok {
		return nil, problemRepo.ErrProblemNotFound
	}
	return cases, nil
}

type fakeExecutor struct {
	err        error
	calls      int
	languageID language.ID
	testCases  []model.TestCase
	// onSubmit runs before tokens are returned.
	onSubmit func(ctx context.Context)
}

func (f *fakeExecutor) SubmitBatch(ctx context.Context, _ string, languageID language.ID, testCases []model.TestCase) ([]string, error) {
	f.calls++
	f.languageID = languageID
	f.testCases = testCases
	if f.onSubmit != nil {
		f.onSubmit(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(testCases) == 0 {
		return nil, nil
	}
	tokens := make([]string, len(testCases))
	for i := range testCases {
		tokens[i] = "tok-" + string(rune('a'+i))
	}
	return tokens, nil
}

type fakeAwaiter struct {
	verdicts []model.Verdict
	err      error
	ctxErr   error
}

func (f *fakeAwaiter) Await(ctx context.Context, tokens []string) ([]model.Verdict, error) {
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	return f.verdicts, nil
}

type acceptedCall struct {
	userID, problemID, contestID int64
	submissionID                 string
}

type fakeReconciler struct {
	calls []acceptedCall
	err   error
}

func (f *fakeReconciler) OnAccepted(_ context.Context, userID, problemID, contestID int64, submissionID string) error {
	f.calls = append(f.calls, acceptedCall{userID, problemID, contestID, submissionID})
	return f.err
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	getErr  error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memoryStorage) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	m.types[bucket+"/"+key] = contentType
	return nil
}

func (m *memoryStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type capturedMessage struct {
	topic   string
	message *mq.Message
}

type recordingProducer struct {
	published []capturedMessage
	err       error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, capturedMessage{topic: topic, message: message})
	return nil
}

func (p *recordingProducer) Close() error { return nil }
