package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/vango-dev/katai/pkg/query"
	"github.com/vango-dev/katai/pkg/store"
)

const maxBodyBytes = 4 << 20

type errorBody struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

type valueBody struct {
	Store string `json:"store"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var knf *store.KeyNotFoundError
	if errors.As(err, &knf) {
		body.Suggestion = knf.Suggestion
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	var qe *query.Error
	switch {
	case errors.Is(err, store.ErrStoreNotFound), errors.Is(err, store.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateStore):
		return http.StatusConflict
	case errors.Is(err, store.ErrMissingName),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, store.ErrMissingState),
		errors.Is(err, store.ErrMissingCacheAdapter),
		errors.Is(err, store.ErrInvalidPath),
		errors.Is(err, query.ErrEmptyExpression),
		errors.As(err, &qe),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadBody = errors.New("request body must be a JSON value")

func decodeBody(r *http.Request) (any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Join(errBadBody, err)
	}
	return v, nil
}

func (s *Server) instance(w http.ResponseWriter, r *http.Request) (*store.Instance, bool) {
	inst, err := s.reg.Store(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return inst, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names := s.reg.Names()
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"stores": names})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	initial, err := decodeBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var opts []store.CreateOption
	q := r.URL.Query()
	if q.Get("cache") == "true" || q.Get("key") != "" {
		if s.adapter != nil {
			opts = append(opts, store.WithCache(s.adapter))
		}
		if key := q.Get("key"); key != "" {
			opts = append(opts, store.WithCacheKey(key))
		}
	}

	inst, err := s.reg.Create(name, initial, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, valueBody{Store: inst.Name(), Value: inst.Get("")})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path != "" && !inst.Has(path) {
		s.writeError(w, &store.KeyNotFoundError{Store: inst.Name(), Path: path})
		return
	}
	writeJSON(w, http.StatusOK, valueBody{Store: inst.Name(), Path: path, Value: inst.Get(path)})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(w, r)
	if !ok {
		return
	}
	value, err := decodeBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	path := r.URL.Query().Get("path")
	switch r.URL.Query().Get("mode") {
	case "set":
		err = inst.Set(path, value)
	case "", "update":
		err = inst.Update(path, func(any) (any, error) { return value, nil })
	default:
		http.Error(w, "mode must be update or set", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueBody{Store: inst.Name(), Path: path, Value: inst.Get(path)})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(w, r)
	if !ok {
		return
	}
	inst.Drop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(w, r)
	if !ok {
		return
	}
	if _, bound := inst.CacheKey(); !bound {
		http.Error(w, "store is not cache-bound", http.StatusConflict)
		return
	}
	inst.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(w, r)
	if !ok {
		return
	}
	out, err := s.eval.Eval(r.URL.Query().Get("expr"), inst.Get(""))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}
