package channel

import (
	"context"
	"errors"
	"time"
)

type StopReason string

const (
	// StopComplete means the handler saw the end of stream marker.
	StopComplete StopReason = "complete"
	// StopDeadline means the total attempt time ran out.
	StopDeadline StopReason = "deadline"
	// StopIdle means no frame arrived within the per message timeout.
	StopIdle StopReason = "idle"
	// StopLimit means the maximum number of frames was read.
	StopLimit StopReason = "limit"
	// StopClosed means the server closed the stream.
	StopClosed StopReason = "closed"
	// StopFailed means reading failed, Collect returns the error.
	StopFailed StopReason = "failed"
)

type CollectOptions struct {
	PerMessageTimeout time.Duration
	TotalTimeout      time.Duration
	// MaxMessages <= 0 means no limit.
	MaxMessages int
}

// Handler is called for every frame in arrival order, returning true ends collection.
type Handler func(msg RawMessage) (done bool)

// Collect reads frames from conn until the handler reports completion, the
// total timeout passes, a single read idles past the per message timeout, the
// frame limit is reached or the stream ends. Running out of time is a normal
// stop and not an error, the frames read so far are returned either way. Only
// a cancelled parent context or a broken read returns an error.
func Collect(ctx context.Context, conn Conn, opts CollectOptions, handle Handler) ([]RawMessage, StopReason, error) {
	totalCtx := ctx
	if opts.TotalTimeout > 0 {
		var cancel context.CancelFunc
		totalCtx, cancel = context.WithTimeout(ctx, opts.TotalTimeout)
		defer cancel()
	}

	messages := []RawMessage{}
	for {
		if opts.MaxMessages > 0 && len(messages) >= opts.MaxMessages {
			return messages, StopLimit, nil
		}

		timeout := opts.PerMessageTimeout
		if deadline, ok := totalCtx.Deadline(); ok {
			remaining := time.Until(deadline)
			if timeout <= 0 || remaining < timeout {
				timeout = remaining
			}
		}
		if timeout <= 0 {
			if ctx.Err() != nil {
				return messages, StopFailed, ctx.Err()
			}
			return messages, StopDeadline, nil
		}

		msg, err := conn.ReceiveNext(totalCtx, timeout)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return messages, StopFailed, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return messages, StopDeadline, nil
		case errors.Is(err, ErrMessageTimeout):
			if totalCtx.Err() != nil {
				return messages, StopDeadline, nil
			}
			return messages, StopIdle, nil
		case errors.Is(err, ErrClosed):
			return messages, StopClosed, nil
		default:
			return messages, StopFailed, err
		}

		messages = append(messages, msg)
		if handle != nil && handle(msg) {
			return messages, StopComplete, nil
		}
	}
}
