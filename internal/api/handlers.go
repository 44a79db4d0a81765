package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/evidense/internal/export"
	"github.com/banshee-data/evidense/internal/httputil"
	"github.com/banshee-data/evidense/internal/report"
	"github.com/banshee-data/evidense/internal/results"
	"github.com/banshee-data/evidense/internal/storage"
	"github.com/banshee-data/evidense/internal/version"
)

// Summary is one entry of /api/measurements.
type Summary struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	DateTime *time.Time         `json:"date_time,omitempty"`
	Comment  string             `json:"comment"`
	Results  *results.ResultSet `json:"results,omitempty"`
}

func (s *Server) showInfo(w http.ResponseWriter, r *http.Request) {
	log := s.src.Log()
	info := Info{
		DataFile:   s.opts.DataFile,
		Records:    log.Count(),
		BlankCount: s.opts.BlankCount,
		Version:    version.Version,
	}
	for _, rec := range log.Records() {
		if rec.HasResults() {
			info.WithResult++
		}
	}
	// Only the file says whether factors were applied; the blank count alone
	// does not.
	info.Calibrated = info.WithResult > 0
	httputil.WriteJSONOK(w, info)
}

func (s *Server) listMeasurements(w http.ResponseWriter, r *http.Request) {
	records := s.src.Log().Records()
	out := make([]Summary, len(records))
	for i, rec := range records {
		out[i] = Summary{Index: i, ID: rec.ID, Comment: rec.Triplet.Comment, Results: rec.Results}
		if !rec.DateTime.IsZero() {
			t := rec.DateTime
			out[i].DateTime = &t
		}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showMeasurement(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid index %q", r.PathValue("index")))
		return
	}
	rec, err := s.src.Log().Get(idx)
	if errors.Is(err, storage.ErrOutOfRange) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, rec)
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := export.ParseMode(q.Get("mode"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	delim, err := export.ParseDelimiter(q.Get("delimiter"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, s.src.Log(), export.Options{Mode: mode, Delimiter: delim}); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=evidense-%s.csv", mode))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) concentrationCharts(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := report.RenderDashboard(&buf, s.src.Log(), s.opts.Charts)
	if errors.Is(err, report.ErrNoData) {
		httputil.NotFound(w, "no records with results yet")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) spectraPlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := report.WriteSpectra(&buf, s.src.Log(), s.opts.BlankCount, "svg")
	if errors.Is(err, report.ErrNoData) {
		httputil.NotFound(w, "no records yet")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = w.Write(buf.Bytes())
}
