package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "farebot/pkg/logx"
)

// HandlerFunc serves one routed request.
type HandlerFunc func(ctx context.Context, req *Request) error

// slowRequest is where a successful request is logged at info. Adding an
// origin includes the fare query, so this is generous.
const slowRequest = 5 * time.Second

// invoke runs h under timeout, turns a panic into an error and logs the
// outcome with the request's fields.
func invoke(ctx context.Context, req *Request, timeout time.Duration, h HandlerFunc) (err error) {
	start := time.Now()
	log := req.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", req.Command, r)
		}
		took := time.Since(start)
		switch {
		case err != nil:
			log.Warn("request failed", logx.Duration("took", took), logx.Err(err))
		case took >= slowRequest:
			log.Info("slow request", logx.Duration("took", took))
		default:
			log.Debug("request ok", logx.Duration("took", took))
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return h(ctx, req)
}
