package middlewares

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
)

var correlationIDRegexp = regexp.MustCompile(`^[\w-_]{3,40}$`)

type CorrelationMw struct {
	headerName string
	next       http.Handler
}

func NewCorrelationMw(headerName string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return NewCorrelation(headerName, next)
	}
}

func NewCorrelation(headerName string, next http.Handler) *CorrelationMw {
	return &CorrelationMw{headerName: headerName, next: next}
}

// Every response carries a correlation ID: the client's if it supplied
// a well-formed one, a freshly minted one otherwise.
func (mw *CorrelationMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	id := mw.requestID(r)
	if id == "" {
		id = uuid.New().String()
	}

	rw.Header().Set(mw.headerName, id)
	mw.next.ServeHTTP(rw, r)
}

func (mw *CorrelationMw) requestID(r *http.Request) string {
	hn := http.CanonicalHeaderKey(mw.headerName)
	ids, ok := r.Header[hn]
	if !ok || len(ids) == 0 {
		return ""
	}

	if !correlationIDRegexp.MatchString(ids[0]) {
		logging.Logger(r.Context()).Debugf("discarding malformed %s header", mw.headerName)
		return ""
	}

	return ids[0]
}
