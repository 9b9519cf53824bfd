package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/model"
)

// Gateway delivers one payload to one device token.
type Gateway interface {
	Send(ctx context.Context, token string, payload model.Payload) (messageID string, err error)
}

// pacer is implemented by gateways that throttle sends. Dispatch waits on it
// before the per-send timeout starts.
type pacer interface {
	Wait(ctx context.Context) error
}

// Delivery is the outcome of fanning one payload out to a token list.
type Delivery struct {
	Succeeded []string
	Failed    []string
	Invalid   []string

	// Fault is set when the token loop was abandoned; tokens after the
	// faulting one were never attempted.
	Fault *UnexpectedProcessingError
}

func (d Delivery) SuccessCount() int { return len(d.Succeeded) }
func (d Delivery) FailureCount() int { return len(d.Failed) }

type Dispatcher struct {
	gw      Gateway
	timeout time.Duration
}

func NewDispatcher(gw Gateway, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Dispatcher{gw: gw, timeout: sendTimeout}
}

// Dispatch attempts every token in order. Send failures are classified and
// counted without stopping the loop; a panic stops it and is returned as
// Delivery.Fault.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string, tokens []string, payload model.Payload) Delivery {
	var out Delivery
	for _, tok := range tokens {
		if fault := d.sendOne(ctx, requestID, tok, payload, &out); fault != nil {
			out.Fault = fault
			slog.Error("dispatch aborted",
				"request_id", requestID,
				"token", tok,
				"attempted", len(out.Succeeded)+len(out.Failed),
				"total", len(tokens),
				"err", fault,
			)
			return out
		}
	}
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, requestID, tok string, payload model.Payload, out *Delivery) (fault *UnexpectedProcessingError) {
	defer func() {
		if r := recover(); r != nil {
			fault = &UnexpectedProcessingError{RequestID: requestID, Token: tok, Cause: r}
		}
	}()

	if p, ok := d.gw.(pacer); ok {
		if err := p.Wait(ctx); err != nil {
			out.Failed = append(out.Failed, tok)
			slog.Warn("push send not attempted", "request_id", requestID,
				"err", &TransientSendError{Token: tok, Err: err})
			return nil
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msgID, err := d.gw.Send(sendCtx, tok, payload)
	if err == nil {
		out.Succeeded = append(out.Succeeded, tok)
		slog.Debug("push sent", "request_id", requestID, "token", tok, "message_id", msgID)
		return nil
	}

	out.Failed = append(out.Failed, tok)
	if Classify(err) == Permanent {
		out.Invalid = append(out.Invalid, tok)
		slog.Info("push target permanently invalid", "request_id", requestID,
			"err", &PermanentTargetError{Token: tok, Err: err})
		return nil
	}
	slog.Warn("push send failed", "request_id", requestID,
		"err", &TransientSendError{Token: tok, Err: err})
	return nil
}
