// Package notify is a bounded, non-blocking toast queue for user-facing notices.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"goflare.io/storefront/models/enum"
)

const defaultQueueSize = 64

type Notice struct {
	Level   enum.NoticeLevel
	Message string
	At      time.Time
}

// Notifier 接收使用者可見的通知，實作不得阻塞呼叫端
type Notifier interface {
	Notify(level enum.NoticeLevel, message string)
}

var _ Notifier = (*Queue)(nil)

type Queue struct {
	notices chan Notice
	dropped atomic.Int64
	now     func() time.Time
	logger  *zap.Logger
}

func NewQueue(size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		notices: make(chan Notice, size),
		now:     time.Now,
		logger:  logger,
	}
}

// Notify enqueues without blocking; when the queue is full the oldest notice is dropped.
func (q *Queue) Notify(level enum.NoticeLevel, message string) {
	n := Notice{Level: level, Message: message, At: q.now()}
	for {
		select {
		case q.notices <- n:
			return
		default:
		}
		select {
		case old := <-q.notices:
			q.dropped.Add(1)
			q.logger.Warn("notification queue full, dropping oldest", zap.String("message", old.Message))
		default:
		}
	}
}

func (q *Queue) Notices() <-chan Notice {
	return q.notices
}

func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Drain 將通知逐一寫出，直到 ctx 結束
func (q *Queue) Drain(ctx context.Context, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-q.notices:
			if _, err := fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message); err != nil {
				q.logger.Error("failed to write notification", zap.Error(err))
			}
		}
	}
}
