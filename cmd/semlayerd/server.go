package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/k0kubun/pp/v3"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/engine"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/executor"
	"github.com/k0kubun/semlayer/query"
)

// server holds the wired Engine and serves the transport surface
// from spec.md §6: GET /meta, POST/GET /load, POST/GET /sql.
type server struct {
	engine *engine.Engine
	debug  bool
}

// debugPrint pretty-prints a compiled statement and its bound
// parameters to stderr when the server was started with --debug,
// grounded on the teacher's database/mysql/parser.go pp.Println(root)
// call for inspecting a parsed statement during development.
func (s *server) debugPrint(compiled *engine.Compiled) {
	if !s.debug {
		return
	}
	pp.Println(compiled)
}

func newMux(s *server, jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/meta", s.handleMeta)
	mux.Handle("/load", authMiddleware(jwtSecret, http.HandlerFunc(s.handleLoad)))
	mux.Handle("/sql", authMiddleware(jwtSecret, http.HandlerFunc(s.handleSQL)))
	return traceMiddleware(mux)
}

func (s *server) handleMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Meta())
}

// queryEnvelope is the {"query": ...} body both /load and /sql accept.
// The inner payload is kept raw so it can be sniffed for which of the
// four query shapes (standard, funnel, flow, retention) it carries,
// the same union-dispatch spec.md §3 describes for the wire query
// types, mirrored here for the endpoint that receives them.
type queryEnvelope struct {
	Query json.RawMessage `json:"query"`
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	raw, err := readQueryPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
		return
	}
	qctx := cube.QueryContext{Context: r.Context(), Security: securityContextFrom(r.Context())}

	switch detectQueryShape(raw) {
	case shapeFunnel:
		var sq query.ServerFunnelQuery
		if err := json.Unmarshal(raw, &sq); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		result, err := s.engine.ExecuteFunnel(r.Context(), qctx, sq.Funnel)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resultEnvelope(result))
	case shapeFlow:
		var sq query.ServerFlowQuery
		if err := json.Unmarshal(raw, &sq); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		result, err := s.engine.ExecuteFlow(r.Context(), qctx, sq.Flow)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resultEnvelope(result))
	case shapeRetention:
		var sq query.ServerRetentionQuery
		if err := json.Unmarshal(raw, &sq); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		result, err := s.engine.ExecuteRetention(r.Context(), qctx, sq.Retention)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resultEnvelope(result))
	default:
		var q query.Query
		if err := json.Unmarshal(raw, &q); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		env, err := s.engine.Execute(r.Context(), qctx, q)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	}
}

func (s *server) handleSQL(w http.ResponseWriter, r *http.Request) {
	raw, err := readQueryPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
		return
	}
	qctx := cube.QueryContext{Context: r.Context(), Security: securityContextFrom(r.Context())}

	switch detectQueryShape(raw) {
	case shapeFunnel:
		var sq query.ServerFunnelQuery
		if err := json.Unmarshal(raw, &sq); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		compiled, err := s.engine.CompileFunnel(qctx, sq.Funnel)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		s.debugPrint(compiled)
		writeJSON(w, http.StatusOK, compiled)
	case shapeFlow:
		var sq query.ServerFlowQuery
		if err := json.Unmarshal(raw, &sq); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		compiled, err := s.engine.CompileFlow(qctx, sq.Flow)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		s.debugPrint(compiled)
		writeJSON(w, http.StatusOK, compiled)
	case shapeRetention:
		var sq query.ServerRetentionQuery
		if err := json.Unmarshal(raw, &sq); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		compiled, err := s.engine.CompileRetention(qctx, sq.Retention)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		s.debugPrint(compiled)
		writeJSON(w, http.StatusOK, compiled)
	default:
		var q query.Query
		if err := json.Unmarshal(raw, &q); err != nil {
			writeError(w, http.StatusBadRequest, "BadQuery", err.Error(), nil)
			return
		}
		compiled, err := s.engine.CompileSQL(qctx, q)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		s.debugPrint(compiled)
		writeJSON(w, http.StatusOK, compiled)
	}
}

type queryShape int

const (
	shapeStandard queryShape = iota
	shapeFunnel
	shapeFlow
	shapeRetention
)

func detectQueryShape(raw json.RawMessage) queryShape {
	var probe struct {
		Funnel    json.RawMessage `json:"funnel"`
		Flow      json.RawMessage `json:"flow"`
		Retention json.RawMessage `json:"retention"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return shapeStandard
	}
	switch {
	case probe.Funnel != nil:
		return shapeFunnel
	case probe.Flow != nil:
		return shapeFlow
	case probe.Retention != nil:
		return shapeRetention
	default:
		return shapeStandard
	}
}

// readQueryPayload accepts both transport shapes from spec.md §6:
// a POST body {"query": ...}, or a GET ?query=<urlEncodedJson>.
func readQueryPayload(r *http.Request) (json.RawMessage, error) {
	if r.Method == http.MethodGet {
		raw := r.URL.Query().Get("query")
		if raw == "" {
			return nil, errors.New("missing query parameter")
		}
		return json.RawMessage(raw), nil
	}
	var env queryEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return nil, err
	}
	if len(env.Query) == 0 {
		return nil, errors.New("missing query field in request body")
	}
	return env.Query, nil
}

// resultRows is the {columns, rows} shape returned for the three
// analyses: their output isn't a cube member list, so it carries no
// annotate.Envelope metadata, only driver column names and values.
type resultRows struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func resultEnvelope(r *executor.Result) resultRows {
	return resultRows{Columns: r.Columns, Rows: r.Rows}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error":   kind,
		"message": message,
		"details": details,
	})
}

// writeCoreError maps the core's errs.Error taxonomy to the HTTP
// statuses spec.md §6 enumerates.
func writeCoreError(w http.ResponseWriter, err error) {
	var coreErr *errs.Error
	if !errors.As(err, &coreErr) {
		writeError(w, http.StatusInternalServerError, "ExecutionFailed", err.Error(), nil)
		return
	}
	status := http.StatusBadRequest
	switch coreErr.Kind {
	case errs.KindUnsupportedDialectFeature:
		status = http.StatusUnprocessableEntity
	case errs.KindExecutionFailed, errs.KindResultDecodeError:
		status = http.StatusInternalServerError
	case errs.KindUnknownCube, errs.KindUnknownField, errs.KindAmbiguousJoin,
		errs.KindInvalidFilter, errs.KindInvalidDateRange:
		status = http.StatusBadRequest
	}
	writeError(w, status, string(coreErr.Kind), coreErr.Error(), map[string]string{"ident": coreErr.Ident})
}
