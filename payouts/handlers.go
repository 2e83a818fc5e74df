package payouts

import (
	"net/http"

	"agrimart/utils"

	"github.com/julienschmidt/httprouter"
)

// POST /api/v1/payouts/recipients
func (s *Service) HandleRegisterRecipient(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in RecipientInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	rec, err := s.RegisterRecipient(r.Context(), utils.PrincipalFromRequest(r), in)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, rec)
}

// GET /api/v1/payouts/recipients/me
func (s *Service) HandleMyRecipient(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rec, err := s.Recipient(r.Context(), utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, rec)
}

// POST /api/v1/admin/payouts/run
func (s *Service) HandleRunBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res, err := s.RunBatch(r.Context())
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// POST /api/v1/admin/payouts/retry/:id
func (s *Service) HandleRetry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := s.Retry(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, p)
}

// POST /api/v1/admin/payouts/retry?limit=
func (s *Service) HandleRetryFailed(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := utils.QueryInt(r, "limit", s.cfg.BatchLimit, 500)
	n, err := s.RetryFailed(r.Context(), utils.PrincipalFromRequest(r), limit)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"requeued": n})
}
