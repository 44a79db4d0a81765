// Package testutil provides helpers shared by the package tests.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/evidense/internal/wavelength"
)

// AssertVectorInDelta fails the test when any channel of got differs from
// want by more than delta. NaN matches NaN and equal infinities match.
func AssertVectorInDelta(t testing.TB, want, got wavelength.Vector, delta float64) {
	t.Helper()
	for _, c := range wavelength.Channels {
		w, g := want.At(c), got.At(c)
		switch {
		case math.IsNaN(w) && math.IsNaN(g):
		case math.IsInf(w, 0) && w == g:
		case math.Abs(w-g) <= delta:
		default:
			t.Errorf("channel %s = %g, want %g (delta %g)", c, g, w, delta)
		}
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// WriteFile writes content to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Serve runs req against h and returns the recorded response.
func Serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}
