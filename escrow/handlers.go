package escrow

import (
	"net/http"

	"agrimart/models"
	"agrimart/utils"

	"github.com/julienschmidt/httprouter"
)

// GET /api/v1/orders/:id/escrows
func (l *Ledger) HandleListForOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	escrows, err := l.ListForOrder(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, l.logger, err)
		return
	}
	if escrows == nil {
		escrows = []models.Escrow{}
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"escrows": escrows})
}

// POST /api/v1/admin/escrows/:id/reset
func (l *Ledger) HandleReset(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e, err := l.Reset(r.Context(), ps.ByName("id"), utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, l.logger, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, e)
}
