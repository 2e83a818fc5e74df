package orders

import (
	"net/http"

	"agrimart/utils"

	"github.com/julienschmidt/httprouter"
)

// POST /api/v1/orders
func (s *Service) HandleCheckout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in CheckoutInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	view, err := s.Checkout(r.Context(), utils.PrincipalFromRequest(r), in)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, view)
}

// GET /api/v1/orders/:id
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	view, err := s.Get(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, view)
}

// PUT /api/v1/orders/:id/status
func (s *Service) HandleUpdateStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Status string `json:"status"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	order, err := s.UpdateStatus(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r), body.Status)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, order)
}

// POST /api/v1/orders/:id/cancel
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	order, err := s.Cancel(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, order)
}
