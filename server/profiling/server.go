/*
 * Copyright 2026 The Titlekit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package profiling

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/titlekit-team/titlekit/internal/logging"
	"github.com/titlekit-team/titlekit/server/profiling/prometheus"
)

const (
	metricsPath = "/metrics"
	pprofPath   = "/debug/pprof"
)

// Server exposes the metrics and, optionally, the pprof endpoints of a
// running titlekit instance over HTTP.
type Server struct {
	conf       *Config
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer creates an instance of Server.
func NewServer(conf *Config, metrics *prometheus.Metrics) *Server {
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle(metricsPath, promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if conf.EnablePprof {
		registerPprof(mux)
	}

	return &Server{
		conf: conf,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.Port),
			Handler: mux,
		},
		logger: logging.New("profiling"),
	}
}

// Start begins serving in the background and returns immediately. Serve
// errors other than a clean shutdown are logged.
func (s *Server) Start() error {
	go func() {
		s.logger.Infof("serving profiling on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Errorf("profiling server: %v", err)
		}
	}()

	return nil
}

// Shutdown stops the server, draining in-flight requests when graceful is set.
func (s *Server) Shutdown(graceful bool) {
	if graceful {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("profiling server shutdown: %v", err)
		}
		return
	}

	if err := s.httpServer.Close(); err != nil {
		s.logger.Errorf("profiling server close: %v", err)
	}
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc(pprofPath+"/", pprof.Index)
	mux.HandleFunc(pprofPath+"/profile", pprof.Profile)
	mux.HandleFunc(pprofPath+"/symbol", pprof.Symbol)
	mux.HandleFunc(pprofPath+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(pprofPath+"/trace", pprof.Trace)
	for _, name := range []string{"heap", "goroutine", "threadcreate", "block", "mutex"} {
		mux.Handle(pprofPath+"/"+name, pprof.Handler(name))
	}
}
