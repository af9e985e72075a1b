package service

import (
	"context"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	"codejudge/internal/submit/repository"
	appErr "codejudge/pkg/errors"
)

const DefaultVerdictTopic = "judge.verdict.final"

// VerdictPublisher announces finalized submissions to the message queue.
type VerdictPublisher struct {
	producer mq.Producer
	topic    string
}

func NewVerdictPublisher(producer mq.Producer, topic string) *VerdictPublisher {
	if topic == "" {
		topic = DefaultVerdictTopic
	}
	return &VerdictPublisher{producer: producer, topic: topic}
}

// PublishFinal publishes the final verdict of submission keyed by its id.
func (p *VerdictPublisher) PublishFinal(ctx context.Context, submission *repository.Submission, finishedAt time.Time) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("verdict publisher is not configured")
	}
	if submission == nil || submission.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := model.VerdictEvent{
		SubmissionID:    submission.SubmissionID,
		UserID:          submission.UserID,
		ProblemID:       submission.ProblemID,
		ContestID:       submission.ContestID,
		Language:        submission.Language,
		Status:          submission.Status,
		TestCasesTotal:  submission.TestCasesTotal,
		TestCasesPassed: submission.TestCasesPassed,
		Runtime:         submission.Runtime,
		Memory:          submission.Memory,
		FinishedAt:      finishedAt.UTC(),
	}
	message, err := mq.NewJSONMessage(submission.SubmissionID, event)
	if err != nil {
		return err
	}
	message.WithHeader("x-submission-status", string(submission.Status))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish verdict event failed")
	}
	return nil
}
