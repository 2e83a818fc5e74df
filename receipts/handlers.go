package receipts

import (
	"net/http"
	"strconv"

	"agrimart/utils"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// GET /api/v1/orders/:id/receipt
func (s *Service) HandleReceipt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	d, err := s.Build(r.Context(), id, utils.PrincipalFromRequest(r))
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	pdf, err := s.Render(d)
	if err != nil {
		s.logger.Error("receipt render failed", zap.String("order_id", id), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to generate receipt")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=receipt-"+id+".pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}
