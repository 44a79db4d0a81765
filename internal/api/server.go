// Package api serves a measurement log read-only over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/report"
	"github.com/banshee-data/evidense/internal/storage"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// LogSource supplies the current log; *watch.LogWatcher implements it.
type LogSource interface {
	Log() *storage.Log
}

// StaticLog serves a fixed log.
type StaticLog struct{ L *storage.Log }

func (s StaticLog) Log() *storage.Log { return s.L }

// Options configures a Server.
type Options struct {
	// DataFile is reported by /api/info.
	DataFile string
	// BlankCount is used to report calibration and to correct plotted
	// spectra. Zero disables both.
	BlankCount int
	Charts     report.ChartOptions
}

type Server struct {
	src  LogSource
	opts Options
}

func NewServer(src LogSource, opts Options) *Server {
	return &Server{src: src, opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration of each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/info", s.showInfo)
	mux.HandleFunc("GET /api/measurements", s.listMeasurements)
	mux.HandleFunc("GET /api/measurements/{index}", s.showMeasurement)
	mux.HandleFunc("GET /api/export.csv", s.exportCSV)
	mux.HandleFunc("GET /charts/concentrations", s.concentrationCharts)
	mux.HandleFunc("GET /plots/spectra.svg", s.spectraPlot)
	return mux
}

// Info is the /api/info payload.
type Info struct {
	DataFile   string `json:"data_file,omitempty"`
	Records    int    `json:"records"`
	WithResult int    `json:"with_results"`
	BlankCount int    `json:"blank_count,omitempty"`
	Calibrated bool   `json:"calibrated"`
	Version    string `json:"version"`
}
