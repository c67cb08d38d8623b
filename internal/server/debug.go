package server

import (
	"net/http"
	netpprof "net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// setupPprof mounts the runtime profiling endpoints on the fallback router
func (s *Server) setupPprof() {
	s.mux.HandlerFunc(http.MethodGet, "/debug/pprof/", netpprof.Index)
	s.mux.HandlerFunc(http.MethodGet, "/debug/pprof/cmdline", netpprof.Cmdline)
	s.mux.HandlerFunc(http.MethodGet, "/debug/pprof/profile", netpprof.Profile)
	s.mux.HandlerFunc(http.MethodGet, "/debug/pprof/symbol", netpprof.Symbol)
	s.mux.HandlerFunc(http.MethodPost, "/debug/pprof/symbol", netpprof.Symbol)
	s.mux.HandlerFunc(http.MethodGet, "/debug/pprof/trace", netpprof.Trace)
	s.mux.GET("/debug/pprof/profiles/:name", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		netpprof.Handler(ps.ByName("name")).ServeHTTP(w, r)
	})
}
