package relay

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/relaymail/relaymail/lib"
)

const maxRequestBytes = 10 << 20

// SendHandler serves POST /api/v1/send. The key is checked before the body is
// read, so unauthenticated callers never get payload validation feedback.
func (p *Pipeline) SendHandler(w http.ResponseWriter, r *http.Request) {
	key, err := p.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req Request
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		lib.RejectedTotal.WithLabelValues(InvalidRequest.String()).Inc()
		writeError(w, r, newError(InvalidRequest, MsgInvalidBody, err))
		return
	}

	result, err := p.Send(r.Context(), key, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := AsError(err)
	lib.ErrorResponse(w, r, e.Kind.HTTPStatus(), e.Message)
}
