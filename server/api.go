package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collabtext/annotation"
	"collabtext/crdt"
)

type api struct {
	docs   *documents
	logger *slog.Logger
}

func newRouter(docs *documents, logger *slog.Logger) *mux.Router {
	a := &api{docs: docs, logger: logger}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/{doc}", a.serveWS)

	d := r.PathPrefix("/docs/{doc}").Subrouter()
	d.HandleFunc("", a.getDocument).Methods(http.MethodGet)
	d.HandleFunc("/rebuild", a.rebuild).Methods(http.MethodPost)
	d.HandleFunc("/annotations", a.listAnnotations).Methods(http.MethodGet)
	d.HandleFunc("/annotations", a.addAnnotation).Methods(http.MethodPost)
	d.HandleFunc("/annotations/{id}", a.getAnnotation).Methods(http.MethodGet)
	d.HandleFunc("/annotations/{id}", a.updateAnnotation).Methods(http.MethodPatch, http.MethodPut)
	d.HandleFunc("/annotations/{id}", a.deleteAnnotation).Methods(http.MethodDelete)
	return r
}

func (a *api) document(w http.ResponseWriter, r *http.Request) (*document, bool) {
	d, err := a.docs.get(mux.Vars(r)["doc"])
	if err != nil {
		a.fail(w, err)
		return nil, false
	}
	return d, true
}

func (a *api) serveWS(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	d.logger.Info("new connection")
	d.hub.ServeWS(w, r)
}

type documentView struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Annotations []annotation.Span `json:"annotations"`
}

func (a *api) getDocument(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	text, overlay := d.view()
	writeJSON(w, http.StatusOK, documentView{ID: d.id, Text: text, Annotations: spans(overlay)})
}

func (a *api) rebuild(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	if err := d.session.Rebuild(); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listAnnotations serves ?at=N (point lookup), ?from=N&to=M (range lookup) or the full overlay.
func (a *api) listAnnotations(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	switch {
	case q.Has("at"):
		at, err := strconv.Atoi(q.Get("at"))
		if err != nil {
			http.Error(w, "invalid at", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, spans(d.session.FindAt(at)))
	case q.Has("from") || q.Has("to"):
		from, err1 := strconv.Atoi(q.Get("from"))
		to, err2 := strconv.Atoi(q.Get("to"))
		if err1 != nil || err2 != nil {
			http.Error(w, "invalid range", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, spans(d.session.FindInRange(from, to)))
	default:
		writeJSON(w, http.StatusOK, spans(d.session.Overlay()))
	}
}

type addRequest struct {
	From int            `json:"from"`
	To   int            `json:"to"`
	Data map[string]any `json:"data"`
}

func (a *api) addAnnotation(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id, err := d.session.AddAnnotation(req.From, req.To, req.Data)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *api) getAnnotation(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	span, found := d.session.FindByID(mux.Vars(r)["id"])
	if !found {
		http.Error(w, annotation.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, span)
}

func (a *api) updateAnnotation(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	var req struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := d.session.UpdateAnnotation(mux.Vars(r)["id"], req.Data); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteAnnotation(w http.ResponseWriter, r *http.Request) {
	d, ok := a.document(w, r)
	if !ok {
		return
	}
	if err := d.session.DeleteAnnotation(mux.Vars(r)["id"]); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, annotation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, annotation.ErrInvalidRange), errors.Is(err, crdt.ErrInvalidPosition):
		status = http.StatusBadRequest
	case errors.Is(err, annotation.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

// spans never returns nil so empty results encode as [].
func spans(in []annotation.Span) []annotation.Span {
	if in == nil {
		return []annotation.Span{}
	}
	return in
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
