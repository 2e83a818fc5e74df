package shipments

import (
	"context"
	"net/http"
	"time"

	"agrimart/apperr"
	"agrimart/models"
	"agrimart/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	socketReadWait  = 90 * time.Second
	socketWriteWait = 10 * time.Second
	socketMaxFrame  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Carrier apps connect from arbitrary origins; the token gates access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socketReply answers every inbound ping frame.
type socketReply struct {
	Location *models.ShipmentLocation `json:"location,omitempty"`
	ETA      *ETA                     `json:"eta,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Reason   string                   `json:"reason,omitempty"`
}

// GET /api/v1/shipments/:id/locations/ws
// A carrier device streams LocationInput frames and gets the stored ping and
// a fresh ETA back for each one.
func (s *Service) LocationSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	by := utils.PrincipalFromRequest(r)
	sh, err := s.load(r.Context(), id)
	if err != nil {
		utils.RespondWithAppError(w, s.logger, err)
		return
	}
	if !by.IsAdmin() && (sh.LogisticsProviderID == "" || by.UserID != sh.LogisticsProviderID) {
		utils.RespondWithAppError(w, s.logger, apperr.Forbidden("not_assigned_carrier"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("shipment_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(socketMaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(socketReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketReadWait))
	})
	s.logger.Info("location stream opened", zap.String("shipment_id", id), zap.String("user_id", by.UserID))

	ctx := context.WithoutCancel(r.Context())
	for {
		var in LocationInput
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("location stream dropped", zap.String("shipment_id", id), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(socketReadWait))

		reply := s.ingest(ctx, id, by, in)
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *Service) ingest(ctx context.Context, id string, by models.Principal, in LocationInput) socketReply {
	loc, err := s.RecordLocation(ctx, id, by, in)
	if err != nil {
		return errorReply(err)
	}
	reply := socketReply{Location: &loc}
	sh, err := s.load(ctx, id)
	if err != nil || sh.Destination == nil {
		return reply
	}
	if eta, err := s.estimate(ctx, sh); err == nil {
		reply.ETA = &eta
	}
	return reply
}

func errorReply(err error) socketReply {
	if kind := apperr.KindOf(err); kind != "" {
		return socketReply{Error: string(kind), Reason: apperr.ReasonOf(err)}
	}
	return socketReply{Error: "internal error"}
}
