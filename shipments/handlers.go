package shipments

import (
	"net/http"

	"agrimart/utils"

	"github.com/julienschmidt/httprouter"
)

// POST /api/v1/shipments
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in CreateInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	sh, err := s.Create(r.Context(), utils.PrincipalFromRequest(r), in)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, sh)
}

// GET /api/v1/shipments/:id
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sh, err := s.Get(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, sh)
}

// PUT /api/v1/shipments/:id/assign
func (s *Service) HandleAssign(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in AssignInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	sh, err := s.Assign(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r), in)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, sh)
}

// PUT /api/v1/shipments/:id/status
func (s *Service) HandleUpdateStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Status string `json:"status"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	sh, err := s.UpdateStatus(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r), body.Status)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, sh)
}

// POST /api/v1/shipments/:id/locations
func (s *Service) HandleRecordLocation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in LocationInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	loc, err := s.RecordLocation(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r), in)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, loc)
}

// GET /api/v1/shipments/:id/eta
func (s *Service) HandleETA(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	eta, err := s.EstimateETA(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, eta)
}
