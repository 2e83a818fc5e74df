package pay

import (
	"io"
	"net/http"

	"agrimart/apperr"
	"agrimart/gateway"
	"agrimart/utils"

	"github.com/julienschmidt/httprouter"
)

const maxWebhookBody = 1 << 20

// POST /api/v1/payments/initialize
func (s *Service) HandleInitialize(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in InitializeInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	p, err := s.Initialize(r.Context(), utils.PrincipalFromRequest(r), in)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{
		"reference":        p.Reference,
		"authorizationUrl": p.AuthorizationURL,
		"accessCode":       p.AccessCode,
		"amountKobo":       p.AmountKobo,
		"currency":         p.Currency,
	})
}

// GET /api/v1/payments/verify/:reference
func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	res, err := s.Verify(r.Context(), utils.PrincipalFromRequest(r), ps.ByName("reference"))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, statusForOutcome(res.Outcome), res)
}

func statusForOutcome(o Outcome) int {
	switch o {
	case OutcomePaid:
		return http.StatusOK
	case OutcomePending:
		return http.StatusAccepted
	case OutcomeMismatch, OutcomeDuplicate:
		return http.StatusConflict
	case OutcomeFailed:
		return http.StatusPaymentRequired
	}
	return http.StatusOK
}

// POST /api/v1/webhooks/gateway
// Anything but a signature or body problem answers 200 so the gateway stops
// redelivering; store errors answer 500 so it tries again.
func (s *Service) HandleWebhookRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, apperr.Wrap(apperr.KindValidation, "body_too_large", err))
		return
	}
	res, err := s.HandleWebhook(r.Context(), body, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"received": true, "outcome": res.Outcome})
}
