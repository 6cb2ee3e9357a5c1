package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"

	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/transport"
)

// viaPseudonym names this server in the Via header of forwarded requests
const viaPseudonym = "go-intercept"

// hopByHopHeaders are not forwarded to the interceptor nor copied back
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Stub answers inbound HTTP requests through the interceptor. Absolute-form
// requests, as sent to a forward proxy, keep their target URL; other requests
// are rebuilt from the Host header.
type Stub struct {
	interceptor *transport.Interceptor
	logger      logrus.FieldLogger
}

// NewStub creates a stub handler
func NewStub(interceptor *transport.Interceptor, logger logrus.FieldLogger) *Stub {
	return &Stub{interceptor: interceptor, logger: logger}
}

// ServeHTTP implements http.Handler
func (s *Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if forwardedByUs(r.Header) {
		writeError(w, http.StatusLoopDetected, "request already passed through this server")
		return
	}

	out, err := OutboundRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.interceptor.RoundTrip(out)
	if err != nil {
		var unmatched *models.UnmatchedRequestError
		switch {
		case errors.As(err, &unmatched):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, models.ErrTransportNotConfigured):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.WithError(err).WithField("url", out.URL.String()).Warn("stubbed request failed")
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	removeHopByHop(header)

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.WithError(err).Debug("failed to write stubbed response")
	}
}

// OutboundRequest turns a server request into the client request it
// represents
func OutboundRequest(r *http.Request) (*http.Request, error) {
	target := *r.URL
	if !target.IsAbs() {
		target.Scheme = "http"
		if r.TLS != nil {
			target.Scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			target.Scheme = proto
		}
		target.Host = r.Host
	}
	if target.Host == "" || !httpguts.ValidHostHeader(target.Host) {
		return nil, errors.New("request has no valid target host")
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, (&url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     target.Path,
		RawPath:  target.RawPath,
		RawQuery: target.RawQuery,
	}).String(), r.Body)
	if err != nil {
		return nil, err
	}

	out.Header = r.Header.Clone()
	removeHopByHop(out.Header)
	out.ContentLength = r.ContentLength
	return out, nil
}

// Forwarder marks requests passed through to real upstreams with a Via entry,
// so a pass-through that targets this server is answered with 508 instead of
// looping. Matching and tracing see the request before the mark is added.
func Forwarder(inner http.RoundTripper) http.RoundTripper {
	return forwarder{inner: inner}
}

type forwarder struct {
	inner http.RoundTripper
}

func (f forwarder) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Add("Via", "1.1 "+viaPseudonym)
	return f.inner.RoundTrip(out)
}

func forwardedByUs(h http.Header) bool {
	for _, value := range h.Values("Via") {
		for _, entry := range strings.Split(value, ",") {
			fields := strings.Fields(entry)
			if len(fields) >= 2 && fields[1] == viaPseudonym {
				return true
			}
		}
	}
	return false
}

func removeHopByHop(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", gin.MIMEJSON+"; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(gin.H{"error": message})
}
