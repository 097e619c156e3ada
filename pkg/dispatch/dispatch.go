// Package dispatch implements the main request-dispatch loop: it ranks a
// LogicalModel's ProviderInstances, drives retries and credential rotation
// within each, and folds adapter outcomes back into the instance's health
// state and the process-wide metrics aggregator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
	"github.com/redisnotbluedev/llm-gateway/pkg/gwerrors"
	"github.com/redisnotbluedev/llm-gateway/pkg/metrics"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
	"github.com/redisnotbluedev/llm-gateway/pkg/registry"
)

// Request is the canonical chat-completion request handed to Dispatch.
type Request struct {
	ModelID  string
	Messages []provider.Message
	Params   provider.Params
}

// Choice is one entry of a Response's choices array.
type Choice struct {
	Index        int              `json:"index"`
	Message      provider.Message `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// Response is the OpenAI chat-completion response envelope, with all
// required fields filled by the dispatcher before it returns.
type Response struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []Choice       `json:"choices"`
	Usage   provider.Usage `json:"usage"`
}

// Dispatcher owns the Registry and GlobalMetrics references needed to
// route a request through a LogicalModel's ranked candidates.
type Dispatcher struct {
	Registry *registry.Registry
	Metrics  *metrics.Global
	log      *logrus.Entry

	// Now and IDGen are overridable for deterministic tests.
	Now   func() time.Time
	IDGen func() string

	// OnStateChange, if set, is called after every outcome that mutates a
	// ProviderInstance's persisted-aggregate state (success or failure). It
	// must not block; a persistence actor's Trigger is non-blocking by
	// design.
	OnStateChange func()
}

// New builds a Dispatcher over reg and globalMetrics.
func New(reg *registry.Registry, globalMetrics *metrics.Global, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		Registry: reg,
		Metrics:  globalMetrics,
		log:      log,
		Now:      time.Now,
		IDGen:    func() string { return uuid.NewString() },
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch runs the full ranked-candidate retry/failover loop for req and
// returns a filled chat-completion envelope, or a *gwerrors.DispatchError
// (or gwerrors.ErrModelNotFound / gwerrors.ErrRegistryUninit) describing
// why no candidate could serve it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	if d.Registry == nil {
		return nil, gwerrors.ErrRegistryUninit
	}

	m, ok := d.Registry.GetModel(req.ModelID)
	if !ok {
		return nil, gwerrors.ErrModelNotFound
	}

	cands := m.AvailableCandidates()
	if len(cands) == 0 {
		return nil, gwerrors.NewDispatchError("NO_AVAILABLE_PROVIDER", 503,
			"no available providers", gwerrors.ErrNoAvailableProvider)
	}

	var lastValidationErr *gwerrors.ValidationError
	var lastTransportErr error

	for _, pi := range cands {
		pi.ResetRetryCount()

		for pi.ShouldAttempt() {
			// Initialize the credential handle before any fallible
			// selection step, so a pre-selection failure never leaves it
			// holding a stale value from a previous iteration.
			var key credential.Key
			var hasKey bool

			if pi.HasPool() {
				k, ok := pi.CurrentCredential()
				if !ok {
					lastTransportErr = gwerrors.NewTransportError(pi.Name, "no keys available", gwerrors.ErrNoKeysAvailable)
					break
				}
				key, hasKey = k, true
			}

			if pi.RetryCount() > 0 {
				if err := d.sleepBackoff(ctx, pi); err != nil {
					return nil, err
				}
			}

			start := d.now()
			modelIDForCall := pi.NextModelID()
			resp, err := pi.Adapter.ChatCompletion(ctx, provider.ChatRequest{
				Messages: req.Messages,
				Params:   req.Params,
			}, modelIDForCall, key)

			if err != nil {
				if ve, isValidation := asValidationError(err); isValidation {
					lastValidationErr = ve
					pi.MarkFailure()
					pi.IncrementRetryCount()
					d.Metrics.RecordError()
					d.notifyStateChange()
					// Never retried on the same adapter; move to the next candidate.
					break
				}

				lastTransportErr = err
				if hasKey {
					pi.MarkKeyFailure(key)
				}
				pi.MarkFailure()
				pi.IncrementRetryCount()
				d.Metrics.RecordError()
				d.notifyStateChange()
				if !pi.ShouldAttempt() {
					break
				}
				continue
			}

			duration := d.now().Sub(start)
			ttft := time.Duration(resp.TTFT * float64(time.Second))
			pi.RecordResponse(duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, 0, ttft, start, key)
			if hasKey {
				pi.MarkKeySuccess(key)
			}
			pi.MarkSuccess()
			d.Metrics.RecordRequest(duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, 0, resp.TTFT)
			d.notifyStateChange()

			return d.envelope(req.ModelID, resp), nil
		}
	}

	if lastValidationErr != nil {
		return nil, gwerrors.NewDispatchError("VALIDATION_FAILED", 400,
			lastValidationErr.Message, lastValidationErr)
	}
	msg := "all providers failed"
	if lastTransportErr != nil {
		msg = fmt.Sprintf("all providers failed; last error: %v", lastTransportErr)
	}
	return nil, gwerrors.NewDispatchError("ALL_PROVIDERS_FAILED", 503, msg, lastTransportErr)
}

func (d *Dispatcher) notifyStateChange() {
	if d.OnStateChange != nil {
		d.OnStateChange()
	}
}

func asValidationError(err error) (*gwerrors.ValidationError, bool) {
	var ve *gwerrors.ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// sleepBackoff waits out pi's current backoff delay, honoring ctx
// cancellation. This is one of the two suspension points in the dispatch
// loop; no lock is held while it runs.
func (d *Dispatcher) sleepBackoff(ctx context.Context, pi *provider.Instance) error {
	delay := pi.Backoff.GetDelay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) envelope(modelID string, resp provider.ChatResponse) *Response {
	return &Response{
		ID:      "chatcmpl-" + d.IDGen(),
		Object:  "chat.completion",
		Created: d.now().Unix(),
		Model:   modelID,
		Choices: []Choice{{
			Index: 0,
			Message: provider.Message{
				Role:    "assistant",
				Content: resp.Content,
			},
			FinishReason: resp.FinishReason,
		}},
		Usage: resp.Usage,
	}
}
