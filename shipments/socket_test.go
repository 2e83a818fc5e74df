package shipments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agrimart/geo"
	"agrimart/globals"
	"agrimart/models"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func as(p models.Principal, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		next(w, r.WithContext(context.WithValue(r.Context(), globals.PrincipalKey, p)), ps)
	}
}

func TestLocationSocketStreamsETA(t *testing.T) {
	f := newFixture(t)
	sh := f.assigned(t, &geo.Point{Lat: 6.6, Lng: 3.4}, 0)

	router := httprouter.New()
	router.GET("/shipments/:id/locations/ws", as(carrier, f.svc.LocationSocket))
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/shipments/" + sh.ID + "/locations/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ping(6.5, 3.4, t0)))
	var reply socketReply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	require.NotNil(t, reply.Location)
	assert.True(t, reply.Location.IsValid)
	require.NotNil(t, reply.ETA)
	assert.True(t, reply.ETA.Available)

	require.NoError(t, conn.WriteJSON(map[string]any{"lat": 6.5}))
	reply = socketReply{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "validation_failure", reply.Error)
	assert.Equal(t, "coordinates_required", reply.Reason)
}

func TestLocationSocketRejectsOtherCarrier(t *testing.T) {
	f := newFixture(t)
	sh := f.assigned(t, nil, 0)

	router := httprouter.New()
	router.GET("/shipments/:id/locations/ws", as(models.Principal{UserID: "rider-2", Roles: []string{"logistics"}}, f.svc.LocationSocket))
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/shipments/" + sh.ID + "/locations/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
