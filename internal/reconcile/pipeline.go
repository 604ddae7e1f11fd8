package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
)

// startAttemptLocked arms the pending timeout, starts the missing uploads
// and queues the append behind earlier submissions
func (e *Engine) startAttemptLocked(en *entry) {
	en.attempt++
	attempt := en.attempt
	h := en.handle

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.PendingTimeout)
	en.cancel = cancel
	en.timer = time.AfterFunc(e.cfg.PendingTimeout, func() { e.expire(h, attempt) })

	done := make(chan struct{})
	en.uploadsDone = done
	e.startUploadsLocked(ctx, en, attempt, done)

	e.appends.push(func() { e.runAppend(ctx, h, attempt, done) })
}

func (e *Engine) startUploadsLocked(ctx context.Context, en *entry, attempt int, done chan struct{}) {
	var wg sync.WaitGroup
	for i := range en.files {
		if en.uploaded[i] != nil {
			continue
		}
		file := en.files[i]
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			att, err := e.transport.Upload(ctx, &file)

			e.mu.Lock()
			defer e.mu.Unlock()
			if en.attempt != attempt || en.state != StatePending {
				return
			}
			if err != nil {
				en.uploadErr[i] = asUploadError(file.Filename, err)
			} else {
				en.uploaded[i] = att
			}
			snap, idx := en.snapshot(), e.indexLocked(en)
			e.notify(func(o Observer) { o.OnMessageUpdated(snap, idx) })
		}(i)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
}

// runAppend runs on the append queue, one submission at a time. It waits
// for this entry's uploads, so later submissions queue behind it.
func (e *Engine) runAppend(ctx context.Context, h Handle, attempt int, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
	}

	e.mu.Lock()
	en := e.byHandle[h]
	if en == nil || en.attempt != attempt || en.state != StatePending || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	for _, err := range en.uploadErr {
		if err != nil {
			e.failLocked(en, err)
			e.mu.Unlock()
			return
		}
	}

	attachments := make([]domain.Attachment, 0, len(en.uploaded))
	for _, a := range en.uploaded {
		attachments = append(attachments, *a)
	}
	en.msg.Attachments = attachments

	e.seq++
	req := &domain.AppendRequest{
		ScopeID:       e.cfg.ScopeID,
		AuthorID:      e.cfg.UserID,
		SubmissionKey: en.key,
		SessionID:     e.cfg.SessionID,
		Seq:           e.seq,
		Body:          en.msg.Body,
		Attachments:   attachments,
		ReplyToID:     copyString(en.msg.ReplyToID),
	}
	e.mu.Unlock()

	rec, err := e.transport.Append(ctx, req)
	if e.ctx.Err() != nil {
		return
	}
	if err != nil {
		e.mu.Lock()
		if en := e.byHandle[h]; en != nil && en.attempt == attempt && en.state == StatePending {
			e.failLocked(en, common.FromContext(err))
		}
		e.mu.Unlock()
		return
	}
	// 타임아웃 이후 도착한 성공도 같은 엔트리를 확정한다
	e.OnPersisted(h, rec)
}

func (e *Engine) expire(h Handle, attempt int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.byHandle[h]
	if en == nil || en.attempt != attempt || en.state != StatePending {
		return
	}
	e.failLocked(en, fmt.Errorf("%w: not acknowledged within %s", common.ErrTransient, e.cfg.PendingTimeout))
}

func asUploadError(filename string, err error) error {
	var ue *common.UploadError
	if errors.As(err, &ue) {
		if ue.Filename == "" {
			return &common.UploadError{Filename: filename, Err: ue.Err}
		}
		return err
	}
	return &common.UploadError{Filename: filename, Err: common.FromContext(err)}
}
