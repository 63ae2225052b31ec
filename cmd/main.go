package main

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/dontpanicw/ProductImages/config"
	"github.com/dontpanicw/ProductImages/internal/app"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("error creating config", "err", err)
		os.Exit(1)
	}

	if cfg.PprofAddr != "" {
		go servePprof(cfg.PprofAddr)
	}

	if err := app.Start(cfg); err != nil {
		slog.Error("failed to start application", "err", err)
		os.Exit(1)
	}
}

// servePprof runs the profiling endpoints on their own listener.
func servePprof(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))

	slog.Info("starting pprof server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("pprof server error", "err", err)
	}
}
