package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edupresence/backend/internal/attendance"
	"github.com/edupresence/backend/pkg/queue"
	"github.com/edupresence/backend/pkg/storage"
)

// EvidenceArchiver processes evidence archive jobs: read the face scan
// blob from the attendance row, upload it to S3, write the object URL
// back and drop the inline blob. The attendance decision is already made
// by the time a job exists; this pipeline is audit provenance only.
type EvidenceArchiver struct {
	attRepo *attendance.Repository
	s3      *storage.S3
	queue   *queue.Queue
	logger  *zap.Logger
}

// NewEvidenceArchiver creates an evidence archive processor.
func NewEvidenceArchiver(attRepo *attendance.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *EvidenceArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvidenceArchiver{attRepo: attRepo, s3: s3, queue: q, logger: logger}
}

// Process executes one evidence archive job.
func (p *EvidenceArchiver) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEvidenceArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EvidenceArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.attRepo.GetByID(ctx, payload.AttendanceID)
	if err != nil {
		return fmt.Errorf("attendance record not found: %s", payload.AttendanceID)
	}
	if rec.EvidenceURL != nil {
		p.logger.Info("evidence already archived", zap.String("attendance_id", rec.ID.String()))
		return nil
	}
	if len(rec.FaceScanData) == 0 {
		p.logger.Info("no evidence blob to archive", zap.String("attendance_id", rec.ID.String()))
		return nil
	}

	key := storage.EvidenceKey(rec.ClassID.String(), rec.Date.Format("2006-01-02"), rec.ID.String())
	url, err := p.s3.UploadEvidence(ctx, key, rec.FaceScanData)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.attRepo.SetEvidenceURL(ctx, rec.ID, url); err != nil {
		p.logger.Error("set evidence url failed", zap.Error(err), zap.String("attendance_id", rec.ID.String()))
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("evidence archived", zap.String("attendance_id", rec.ID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EvidenceArchiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("evidence worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			p.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if rerr := p.queue.Retry(ctx, job); rerr != nil {
				p.logger.Error("retry failed", zap.String("job_id", job.ID), zap.Error(rerr))
			}
		}
	}
}
