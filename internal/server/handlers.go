package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/mql"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// QueryResponse is the body of a successful /api/v1/query call.
type QueryResponse struct {
	ID         string   `json:"id,omitempty"`
	SQL        string   `json:"query"`
	QueryType  string   `json:"query_type"`
	Connection string   `json:"connection,omitempty"`
	Columns    []string `json:"columns,omitempty"`
	Rows       [][]any  `json:"rows,omitempty"`
}

// FieldInfo describes a field in listings.
type FieldInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	View            string `json:"view"`
	FieldType       string `json:"field_type"`
	Type            string `json:"type,omitempty"`
	Label           string `json:"label"`
	Description     string `json:"description,omitempty"`
	ValueFormatName string `json:"value_format_name,omitempty"`
}

// NewFieldInfo summarizes f.
func NewFieldInfo(f *model.Field) FieldInfo {
	return FieldInfo{
		ID:              f.ID(),
		Name:            f.Name,
		View:            f.View().Name,
		FieldType:       f.FieldType,
		Type:            f.Type,
		Label:           f.DisplayLabel(),
		Description:     f.Description,
		ValueFormatName: f.ValueFormatName,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, core.NewParseError("request body must be a JSON object: %v", err)
	}
	return raw, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	run, _ := raw["run"].(bool)
	delete(raw, "run")
	req, err := query.DecodeRequest(raw)
	if err != nil {
		writeErr(w, err)
		return
	}

	var res *query.Result
	err = s.asUser(userFromContext(r.Context()), func(p *model.Project) error {
		var err error
		res, err = query.New(p, query.WithLogger(s.logger)).Compile(req)
		return err
	})

	resp := QueryResponse{}
	rec := &state.QueryRecord{User: subjectFromContext(r.Context())}
	if reqJSON, mErr := json.Marshal(raw); mErr == nil {
		rec.Request = string(reqJSON)
	}
	if err == nil {
		resp.SQL, resp.QueryType, resp.Connection = res.SQL, res.QueryType, res.Connection
		rec.SQL, rec.QueryType = res.SQL, res.QueryType
		if run {
			err = s.run(r, res, &resp)
			if err == nil {
				n := len(resp.Rows)
				rec.RowCount = &n
			}
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	rec.Duration = time.Since(start)
	s.record(r, rec)
	resp.ID = rec.ID

	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) run(r *http.Request, res *query.Result, resp *QueryResponse) error {
	if s.opts.Pool == nil {
		return &core.ArgumentError{Message: "this server has no warehouse connections configured, so queries cannot be run"}
	}
	if res.Connection == "" {
		return &core.ArgumentError{Message: "the model has no connection to run the query on"}
	}
	rs, err := s.opts.Pool.Query(r.Context(), res.Connection, res.SQL)
	if err != nil {
		return err
	}
	resp.Columns, resp.Rows = rs.Columns, rs.Rows
	return nil
}

func (s *Server) record(r *http.Request, rec *state.QueryRecord) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.RecordQuery(r.Context(), rec); err != nil {
		s.logger.Warn("failed to record query", slog.Any("error", err))
	}
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	sql, _ := raw["sql"].(string)
	if sql == "" {
		writeErr(w, &core.ArgumentError{Message: "the request is missing the required key sql"})
		return
	}
	delete(raw, "sql")
	base, err := query.DecodeRequest(raw)
	if err != nil {
		writeErr(w, err)
		return
	}

	var out string
	err = s.asUser(userFromContext(r.Context()), func(p *model.Project) error {
		c := mql.NewConverter(query.New(p, query.WithLogger(s.logger)), s.logger)
		var err error
		out, err = c.Convert(sql, base)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"query": out})
}

func (s *Server) handleListFields(measures bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := r.URL.Query().Get("view")
		showHidden := r.URL.Query().Get("show_hidden") == "true"
		var infos []FieldInfo
		err := s.asUser(userFromContext(r.Context()), func(p *model.Project) error {
			list := p.ListDimensions
			if measures {
				list = p.ListMetrics
			}
			fields, err := list(view, showHidden)
			if err != nil {
				return err
			}
			infos = make([]FieldInfo, len(fields))
			for i, f := range fields {
				infos[i] = NewFieldInfo(f)
			}
			return nil
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

// ValidateResponse is the body of /api/v1/validate.
type ValidateResponse struct {
	Valid       bool                  `json:"valid"`
	Errors      int                   `json:"errors"`
	Warnings    int                   `json:"warnings"`
	Diagnostics []validate.Diagnostic `json:"diagnostics"`
}

func (s *Server) handleValidate(w http.ResponseWriter, _ *http.Request) {
	var diags []validate.Diagnostic
	_ = s.asUser(nil, func(p *model.Project) error {
		diags = validate.NewAnalyzer(s.opts.Validation, s.logger).Analyze(p)
		return nil
	})
	errs := len(validate.Errors(diags))
	if diags == nil {
		diags = []validate.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:       errs == 0,
		Errors:      errs,
		Warnings:    len(diags) - errs,
		Diagnostics: diags,
	})
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotFound, "query history is not enabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	queries, err := s.opts.Store.ListQueries(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if queries == nil {
		queries = []*state.QueryRecord{}
	}
	writeJSON(w, http.StatusOK, queries)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotFound, "query history is not enabled")
		return
	}
	rec, err := s.opts.Store.GetQuery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// errorResponse is the body of every failed call.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// statusFor maps an error to its HTTP status: missing or inaccessible
// objects are 404, malformed queries 400, everything else 500.
func statusFor(err error) int {
	var (
		denied  *core.AccessDeniedError
		qerr    *core.QueryError
		joinErr *core.JoinError
		perr    *core.ParseError
		aerr    *core.ArgumentError
	)
	switch {
	case errors.As(err, &denied), errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &joinErr), errors.As(err, &qerr), errors.As(err, &perr), errors.As(err, &aerr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
