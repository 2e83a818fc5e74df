package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrumentCountsByPattern(t *testing.T) {
	h := Instrument(http.MethodGet, "/api/v1/orders/:id")(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusNotFound)
	})
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/orders/:id", "404"))
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/abc", nil), nil)
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/def", nil), nil)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/orders/:id", "404"))
	assert.Equal(t, 2.0, after-before)
}

func TestRecordPing(t *testing.T) {
	before := testutil.ToFloat64(shipmentPingsTotal.WithLabelValues("invalid"))
	RecordPing(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(shipmentPingsTotal.WithLabelValues("invalid"))-before)
}
