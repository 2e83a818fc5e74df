package pay

import (
	"context"
	"errors"
	"strings"

	"agrimart/apperr"
	"agrimart/gateway"
	"agrimart/store"

	"go.uber.org/zap"
)

// HandleWebhook authenticates and applies a gateway push. The signature is
// checked before the body is even parsed, so a bad signature changes nothing.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (Result, error) {
	if err := gateway.VerifySignature(s.cfg.WebhookSecret, body, signature); err != nil {
		s.logger.Warn("webhook rejected", zap.String("reason", apperr.ReasonOf(err)))
		return Result{}, err
	}
	ev, err := gateway.ParseWebhook(body)
	if err != nil {
		return Result{}, err
	}

	switch ev.Event {
	case gateway.EventChargeSuccess:
		ref := strings.TrimSpace(ev.Data.Reference)
		if ref == "" {
			return Result{}, apperr.Validation("missing_reference")
		}
		p, err := s.store.GetPaymentByReference(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("charge webhook for unknown reference ignored", zap.String("reference", ref))
			return Result{Reference: ref, Outcome: OutcomeIgnored, Reason: "unknown_reference"}, nil
		}
		if err != nil {
			return Result{}, err
		}
		return s.matchThenCommit(ctx, p, ev.Verification(body), "webhook")

	case gateway.EventTransferSuccess, gateway.EventTransferFailed, gateway.EventTransferReverse:
		code := strings.TrimSpace(ev.Data.TransferCode)
		if code == "" {
			return Result{}, apperr.Validation("missing_transfer_code")
		}
		if err := s.transfers.HandleTransferEvent(ctx, ev.Event, code, ev.Data.Reason); err != nil {
			return Result{}, err
		}
		return Result{Reference: code, Outcome: Outcome(ev.Event)}, nil
	}

	s.logger.Debug("webhook event ignored", zap.String("event", ev.Event))
	return Result{Outcome: OutcomeIgnored, Reason: ev.Event}, nil
}
