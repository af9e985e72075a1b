package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/verdict"
	problemRepo "codejudge/internal/problem/repository"
	"codejudge/internal/submit/repository"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	rateSubmitKeyPrefix = "judge:rate:submit:"
	rateRunKeyPrefix    = "judge:rate:run:"
	defaultSlotWait     = 2 * time.Second
)

// BatchSubmitter sends all test cases of one submission to the execution backend.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, sourceCode string, languageID language.ID, testCases []model.TestCase) ([]string, error)
}

// ResultAwaiter blocks until every token has a terminal verdict.
type ResultAwaiter interface {
	Await(ctx context.Context, tokens []string) ([]model.Verdict, error)
}

// ContestGate admits contest submissions only while the contest runs.
type ContestGate interface {
	EnsureRunning(ctx context.Context, contestID, problemID int64) error
}

// AcceptedHandler reacts to an accepted submission.
type AcceptedHandler interface {
	OnAccepted(ctx context.Context, userID, problemID, contestID int64, submissionID string) error
}

// RateLimitConfig holds per-user throttling. Zero values disable it.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for calls that must not hang a request.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	Storage time.Duration `yaml:"storage"`
	MQ      time.Duration `yaml:"mq"`
}

// Config holds judge service dependencies and settings.
type Config struct {
	Submissions repository.SubmissionRepository
	TestCases   problemRepo.TestCaseRepository
	Executor    BatchSubmitter
	Poller      ResultAwaiter
	Reconciler  AcceptedHandler

	// Optional collaborators.
	Contests ContestGate
	Cache    cache.Cache
	Archive  *SourceArchive
	Events   *VerdictPublisher

	// OffloadSource keeps archived sources only in object storage; the ledger
	// row stores an empty source_code and GetSubmission reads the archive.
	OffloadSource bool

	EmptyPolicy  verdict.EmptyPolicy
	MaxCodeBytes int
	// MaxInFlight caps submissions being judged at once; 0 disables the cap.
	MaxInFlight int
	SlotWait    time.Duration
	RateLimit   RateLimitConfig
	Timeouts    TimeoutConfig
}

// Service runs the judging pipeline for submit and run requests.
type Service struct {
	submissions repository.SubmissionRepository
	testCases   problemRepo.TestCaseRepository
	executor    BatchSubmitter
	poller      ResultAwaiter
	reconciler  AcceptedHandler
	contests    ContestGate
	cache       cache.Cache
	archive     *SourceArchive
	events      *VerdictPublisher

	offloadSource bool
	emptyPolicy   verdict.EmptyPolicy
	maxCodeBytes  int
	sem           chan struct{}
	slotWait      time.Duration
	rateLimit     RateLimitConfig
	timeouts      TimeoutConfig
	now           func() time.Time
}

// SubmitInput describes a submission against a problem's hidden test cases.
type SubmitInput struct {
	UserID     int64
	ProblemID  int64
	ContestID  int64
	Language   string
	SourceCode string
}

// SubmitResult is the finalized outcome of a submission.
type SubmitResult struct {
	SubmissionID    string
	Status          model.SubmissionStatus
	Accepted        bool
	TotalTestCases  int
	PassedTestCases int
	Runtime         float64
	Memory          int64
	ErrorMessage    *string
}

// RunInput describes a trial run against a problem's visible test cases.
type RunInput struct {
	UserID     int64
	ProblemID  int64
	Language   string
	SourceCode string
}

// RunCase pairs a visible test case with its verdict.
type RunCase struct {
	model.VisibleTestCase
	model.Verdict
}

// RunResult reports every verdict of a run; nothing is persisted.
type RunResult struct {
	Success   bool
	TestCases []RunCase
	Runtime   float64
	Memory    int64
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.TestCases == nil {
		return nil, fmt.Errorf("test case repository is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if cfg.EmptyPolicy == "" {
		cfg.EmptyPolicy = verdict.EmptyAccept
	}
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = defaultSlotWait
	}
	var sem chan struct{}
	if cfg.MaxInFlight > 0 {
		sem = make(chan struct{}, cfg.MaxInFlight)
	}
	return &Service{
		submissions:   cfg.Submissions,
		testCases:     cfg.TestCases,
		executor:      cfg.Executor,
		poller:        cfg.Poller,
		reconciler:    cfg.Reconciler,
		contests:      cfg.Contests,
		cache:         cfg.Cache,
		archive:       cfg.Archive,
		events:        cfg.Events,
		offloadSource: cfg.OffloadSource,
		emptyPolicy:   cfg.EmptyPolicy,
		maxCodeBytes:  cfg.MaxCodeBytes,
		sem:           sem,
		slotWait:      cfg.SlotWait,
		rateLimit:     cfg.RateLimit,
		timeouts:      cfg.Timeouts,
		now:           time.Now,
	}, nil
}

// Submit judges code against the hidden test cases and records the outcome.
// The pending record is written before the backend is contacted; once the batch
// is submitted the pipeline no longer follows request cancellation.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if err := s.validate(input.UserID, input.ProblemID, input.Language, input.SourceCode); err != nil {
		return nil, err
	}
	lang := language.Normalize(input.Language)
	languageID, err := language.Resolve(lang)
	if err != nil {
		return nil, err
	}
	if input.ContestID > 0 {
		if s.contests == nil {
			return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("contests are not available")
		}
		if err := s.contests.EnsureRunning(ctx, input.ContestID, input.ProblemID); err != nil {
			return nil, err
		}
	}
	if err := s.checkRateLimit(ctx, rateSubmitKeyPrefix, input.UserID); err != nil {
		return nil, err
	}

	testCases, err := s.loadHidden(ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}
	if len(testCases) == 0 && s.emptyPolicy == verdict.EmptyReject {
		return nil, appErr.New(appErr.TestCaseNotFound).WithMessage("problem has no test cases")
	}

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	submission := &repository.Submission{
		SubmissionID:   uuid.NewString(),
		UserID:         input.UserID,
		ProblemID:      input.ProblemID,
		ContestID:      input.ContestID,
		Language:       lang,
		SourceCode:     input.SourceCode,
		TestCasesTotal: len(testCases),
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, submission.SubmissionID)
	submission.SourceKey = s.archiveSource(ctx, submission.SubmissionID, input.SourceCode)
	if s.offloadSource && submission.SourceKey != "" {
		submission.SourceCode = ""
	}
	if err := s.createPending(ctx, submission); err != nil {
		return nil, err
	}

	judgeCtx := context.WithoutCancel(ctx)

	tokens, err := s.executor.SubmitBatch(judgeCtx, input.SourceCode, languageID, testCases)
	if err != nil {
		s.stall(judgeCtx, submission.SubmissionID, "batch submit failed", err)
		return nil, asBackendError(err)
	}
	verdicts, err := s.poller.Await(judgeCtx, tokens)
	if err != nil {
		s.stall(judgeCtx, submission.SubmissionID, "awaiting verdicts failed", err)
		if appErr.Is(err, appErr.JudgingTimeout) {
			return nil, err
		}
		return nil, asBackendError(err)
	}
	if len(verdicts) != len(testCases) {
		err := appErr.Newf(appErr.JudgeBackendUnavailable, "received %d verdicts for %d test cases", len(verdicts), len(testCases))
		s.stall(judgeCtx, submission.SubmissionID, "incomplete verdicts", err)
		return nil, err
	}

	outcome := verdict.Aggregate(verdicts)
	if err := s.finalize(judgeCtx, submission.SubmissionID, outcome); err != nil {
		return nil, err
	}
	submission.Status = outcome.Status
	submission.TestCasesPassed = outcome.PassedCount
	submission.Runtime = outcome.TotalRuntime
	submission.Memory = outcome.PeakMemory
	submission.ErrorMessage = outcome.ErrorMessage
	logger.Info(ctx, "submission judged",
		zap.String("status", string(outcome.Status)),
		zap.Int("passed", outcome.PassedCount),
		zap.Int("total", len(testCases)),
	)

	if outcome.Accepted() {
		if err := s.reconciler.OnAccepted(judgeCtx, input.UserID, input.ProblemID, input.ContestID, submission.SubmissionID); err != nil {
			logger.Error(ctx, "reconcile accepted submission failed", zap.Error(err))
			return nil, err
		}
	}
	s.publishVerdict(judgeCtx, submission)

	return &SubmitResult{
		SubmissionID:    submission.SubmissionID,
		Status:          outcome.Status,
		Accepted:        outcome.Accepted(),
		TotalTestCases:  len(testCases),
		PassedTestCases: outcome.PassedCount,
		Runtime:         outcome.TotalRuntime,
		Memory:          outcome.PeakMemory,
		ErrorMessage:    outcome.ErrorMessage,
	}, nil
}

// Run executes code against the visible test cases without creating a record.
func (s *Service) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	if err := s.validate(input.UserID, input.ProblemID, input.Language, input.SourceCode); err != nil {
		return nil, err
	}
	languageID, err := language.Resolve(language.Normalize(input.Language))
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, rateRunKeyPrefix, input.UserID); err != nil {
		return nil, err
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	visible, err := s.testCases.GetVisibleTestCases(ctxDB.ctx, input.ProblemID)
	ctxDB.cancel()
	if err != nil {
		return nil, problemError(err)
	}

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	testCases := make([]model.TestCase, len(visible))
	for i, tc := range visible {
		testCases[i] = tc.AsTestCase()
	}
	tokens, err := s.executor.SubmitBatch(ctx, input.SourceCode, languageID, testCases)
	if err != nil {
		return nil, asBackendError(err)
	}
	verdicts, err := s.poller.Await(ctx, tokens)
	if err != nil {
		if appErr.Is(err, appErr.JudgingTimeout) {
			return nil, err
		}
		return nil, asBackendError(err)
	}
	if len(verdicts) != len(visible) {
		return nil, appErr.Newf(appErr.JudgeBackendUnavailable, "received %d verdicts for %d test cases", len(verdicts), len(visible))
	}

	outcome := verdict.Aggregate(verdicts)
	cases := make([]RunCase, len(verdicts))
	for i, v := range verdicts {
		cases[i] = RunCase{VisibleTestCase: visible[i], Verdict: v}
	}
	return &RunResult{
		Success:   outcome.Accepted(),
		TestCases: cases,
		Runtime:   outcome.TotalRuntime,
		Memory:    outcome.PeakMemory,
	}, nil
}

// GetSubmission returns a ledger record owned by userID.
func (s *Service) GetSubmission(ctx context.Context, userID int64, submissionID string) (*repository.Submission, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, appErr.RequiredField("submission_id")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissions.GetByID(ctxDB.ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if submission.UserID != userID {
		return nil, appErr.New(appErr.Forbidden).WithMessage("submission belongs to another user")
	}
	if submission.SourceCode == "" && submission.SourceKey != "" {
		s.restoreSource(ctx, submission)
	}
	return submission, nil
}

// restoreSource fills an offloaded source from the archive. The record is
// still returned without it when the archive cannot be read.
func (s *Service) restoreSource(ctx context.Context, submission *repository.Submission) {
	if s.archive == nil {
		logger.Warn(ctx, "source is archived but no archive is configured", zap.String("source_key", submission.SourceKey))
		return
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	source, err := s.archive.Load(ctxStorage.ctx, submission.SourceKey)
	if err != nil {
		logger.Warn(ctx, "load archived source failed", zap.String("source_key", submission.SourceKey), zap.Error(err))
		return
	}
	submission.SourceCode = source
}

func (s *Service) validate(userID, problemID int64, lang, code string) error {
	if userID <= 0 {
		return appErr.New(appErr.Unauthorized).WithMessage("user is not authenticated")
	}
	if problemID <= 0 {
		return appErr.RequiredField("problem_id")
	}
	if strings.TrimSpace(code) == "" {
		return appErr.RequiredField("code")
	}
	if strings.TrimSpace(lang) == "" {
		return appErr.RequiredField("language")
	}
	if s.maxCodeBytes > 0 && len(code) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("source code too large").
			WithDetail("limit", s.maxCodeBytes)
	}
	return nil
}

func (s *Service) loadHidden(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	testCases, err := s.testCases.GetHiddenTestCases(ctxDB.ctx, problemID)
	if err != nil {
		return nil, problemError(err)
	}
	return testCases, nil
}

func (s *Service) createPending(ctx context.Context, submission *repository.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissions.CreatePending(ctxDB.ctx, submission); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	return nil
}

func (s *Service) finalize(ctx context.Context, submissionID string, outcome model.Outcome) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	err := s.submissions.Finalize(ctxDB.ctx, submissionID, outcome)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrSubmissionFinalized):
		return appErr.Wrapf(err, appErr.SubmissionFinalized, "submission already finalized")
	default:
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize submission failed")
	}
}

// stall leaves the record pending with a diagnostic; the submission can be inspected or re-driven later.
func (s *Service) stall(ctx context.Context, submissionID, reason string, cause error) {
	logger.Warn(ctx, "submission left pending", zap.String("reason", reason), zap.Error(cause))
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissions.MarkStalled(ctxDB.ctx, submissionID, reason+": "+cause.Error()); err != nil {
		logger.Error(ctx, "record stall reason failed", zap.Error(err))
	}
}

func (s *Service) archiveSource(ctx context.Context, submissionID, source string) string {
	if s.archive == nil {
		return ""
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key, err := s.archive.Put(ctxStorage.ctx, submissionID, source)
	if err != nil {
		logger.Warn(ctx, "archive source failed", zap.Error(err))
		return ""
	}
	return key
}

func (s *Service) publishVerdict(ctx context.Context, submission *repository.Submission) {
	if s.events == nil {
		return
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.events.PublishFinal(ctxMQ.ctx, submission, s.now()); err != nil {
		logger.Warn(ctx, "publish verdict event failed", zap.Error(err))
	}
}

func (s *Service) checkRateLimit(ctx context.Context, prefix string, userID int64) error {
	if s.cache == nil || s.rateLimit.UserMax <= 0 || s.rateLimit.Window <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	count, err := s.cache.IncrWindow(ctxCache.ctx, prefix+strconv.FormatInt(userID, 10), s.rateLimit.Window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if int(count) > s.rateLimit.UserMax {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

func (s *Service) acquireSlot(ctx context.Context) (func(), error) {
	if s.sem == nil {
		return func() {}, nil
	}
	timer := time.NewTimer(s.slotWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, appErr.Wrapf(ctx.Err(), appErr.Timeout, "waiting for a judging slot")
	case <-timer.C:
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("too many submissions are being judged")
	}
}

func problemError(err error) error {
	if errors.Is(err, problemRepo.ErrProblemNotFound) {
		return appErr.New(appErr.ProblemNotFound).WithMessage("problem not found")
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "load test cases failed")
}

func asBackendError(err error) error {
	if appErr.Is(err, appErr.JudgeBackendUnavailable) {
		return err
	}
	return appErr.Wrap(err, appErr.JudgeBackendUnavailable)
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
