package www

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/netztransparenz-go/endpoint"
	"github.com/icodeforyou/netztransparenz-go/fetch"
	"github.com/icodeforyou/netztransparenz-go/table"
	"github.com/icodeforyou/netztransparenz-go/timerange"
)

type Querier interface {
	QueryWith(ctx context.Context, name string, from, to time.Time, opts fetch.Options) (*table.Table, error)
	Registry() *endpoint.Registry
	MaxSpan() time.Duration
}

type endpointInfo struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Mode      string   `json:"mode"`
	Forecast  bool     `json:"forecast"`
	Transpose bool     `json:"transpose"`
	Columns   []string `json:"columns"`
}

func NewEndpointsHandler(logger *slog.Logger, client Querier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg := client.Registry()
		out := make([]endpointInfo, 0, reg.Len())
		for _, name := range reg.Names() {
			d := reg.MustLookup(name)
			out = append(out, endpointInfo{
				Name:      d.Name,
				Path:      d.Path,
				Mode:      d.Mode.String(),
				Forecast:  d.Forecast,
				Transpose: d.Transpose,
				Columns:   d.Columns(true),
			})
		}
		writeJSON(logger, w, http.StatusOK, out)
	}
}

type queryResponse struct {
	Endpoint string       `json:"endpoint"`
	Table    *table.Table `json:"table"`
	Issues   []string     `json:"issues,omitempty"`
}

// NewQueryHandler serves GET /api/query/{name}?from=&to=. Optional parameters:
// transform (default true), strict, partial, transpose, year and format=text for
// ";" separated output.
func NewQueryHandler(logger *slog.Logger, client Querier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, ok := client.Registry().Lookup(name); !ok {
			writeError(logger, w, http.StatusNotFound, fmt.Errorf("unknown endpoint %q", name))
			return
		}

		from, err := timeParam(r.URL, "from")
		if err != nil {
			writeError(logger, w, http.StatusBadRequest, err)
			return
		}
		to, err := timeParam(r.URL, "to")
		if err != nil {
			writeError(logger, w, http.StatusBadRequest, err)
			return
		}

		var issues []string
		opts := fetch.Options{
			Strict:      boolOrDefault(r.URL, "strict", true),
			Materialize: boolOrDefault(r.URL, "transform", true),
			Partial:     boolOrDefault(r.URL, "partial", false),
			Transpose:   boolOrDefault(r.URL, "transpose", false),
			Year:        intOrDefault(r.URL, "year", 0),
			OnIssue: func(err error) {
				issues = append(issues, err.Error())
			},
		}

		t, err := client.QueryWith(r.Context(), name, from, to, opts)
		var invalid *timerange.InvalidRangeError
		switch {
		case errors.As(err, &invalid):
			writeError(logger, w, http.StatusBadRequest, err)
			return
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			writeError(logger, w, http.StatusBadGateway, err)
			return
		}

		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if _, err := w.Write([]byte(t.Format(";"))); err != nil {
				logger.Error("writing response", slog.Any("error", err))
			}
			return
		}
		writeJSON(logger, w, http.StatusOK, queryResponse{Endpoint: name, Table: t, Issues: issues})
	}
}
