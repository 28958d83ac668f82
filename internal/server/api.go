package server

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/23skdu/longbow-lens/internal/assembler"
	"github.com/23skdu/longbow-lens/internal/colormap"
	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/lenserr"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/render"
	"github.com/23skdu/longbow-lens/internal/session"
	"github.com/23skdu/longbow-lens/internal/trace"
)

const (
	codeNotFound = "NOT_FOUND"
	codeFlight   = "FLIGHT_ERROR"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: APIError{Code: code, Message: message}})
}

// writeLensError maps a typed error to a status code.
func writeLensError(w http.ResponseWriter, err error) {
	code := lenserr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case lenserr.CodeMalformedTrace, lenserr.CodeInvalidSelection, lenserr.CodeDimensionMismatch:
		status = http.StatusBadRequest
	case lenserr.CodeUnavailable, lenserr.CodeDegenerateInput:
		status = http.StatusNotFound
	case "":
		code = lenserr.CodeInternal
	}
	writeError(w, status, string(code), err.Error())
}

type SessionInfo struct {
	ID          string   `json:"id"`
	Generation  uint64   `json:"generation"`
	TraceID     string   `json:"trace_id,omitempty"`
	Fields      []string `json:"fields"`
	Subscribers int      `json:"subscribers"`
}

func sessionInfo(sess *session.Session) SessionInfo {
	snap := sess.Current()
	info := SessionInfo{ID: sess.ID, Generation: snap.Generation, Fields: snap.Trace.Fields(), Subscribers: sess.Subscribers()}
	if snap.Trace != nil {
		info.TraceID = snap.Trace.ID.String()
	}
	return info
}

// ReplaceResponse acknowledges a trace upload.
type ReplaceResponse struct {
	SessionInfo
	Tokens   int               `json:"tokens"`
	Problems map[string]string `json:"problems,omitempty"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) listPalettes(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]string)
	for _, name := range colormap.Names() {
		out[name] = colormap.MustLookup(name).Hex()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	out := []SessionInfo{}
	for _, id := range s.sessions.IDs() {
		if sess, err := s.sessions.Get(id); err == nil {
			out = append(out, sessionInfo(sess))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.log.Info("Session created", "session", sess.ID)
	writeJSON(w, http.StatusCreated, sessionInfo(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	}
	s.projector.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTrace(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap := sess.Current()
	if snap.Trace == nil {
		writeError(w, http.StatusNotFound, string(lenserr.CodeUnavailable), "no trace loaded")
		return
	}
	writeJSON(w, http.StatusOK, snap.Trace)
}

func (s *Server) putTrace(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	t, err := trace.Decode(http.MaxBytesReader(w, r.Body, maxTraceBytes))
	if err != nil {
		writeLensError(w, err)
		return
	}

	gen := sess.Replace(t)
	s.projector.Supersede(sess.ID, gen)

	resp := ReplaceResponse{SessionInfo: sessionInfo(sess)}
	resp.Tokens, _ = t.TokenCount()
	if problems := t.Validate(); len(problems) > 0 {
		resp.Problems = make(map[string]string, len(problems))
		for field, err := range problems {
			resp.Problems[field] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearTrace(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	gen := sess.Clear()
	s.projector.Supersede(sess.ID, gen)
	writeJSON(w, http.StatusOK, sessionInfo(sess))
}

// selection reads view state from the query, falling back to configured
// defaults.
func (s *Server) selection(q url.Values) (assembler.Selection, error) {
	v := s.cfg.View
	sel := assembler.Selection{
		Head:         v.DefaultHead,
		NeuronWindow: v.FFNNeuronWindow,
		LabelWidth:   v.TokenLabelWidth,
		BarScale:     v.TopKBarScale,
		Nearest:      v.NearestTokens,
	}
	params := []struct {
		name string
		dst  *int
	}{
		{"head", &sel.Head},
		{"token", &sel.Token},
		{"neurons", &sel.NeuronWindow},
		{"nearest", &sel.Nearest},
		{"width", &sel.LabelWidth},
	}
	for _, p := range params {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return sel, lenserr.Newf(lenserr.CodeInvalidSelection, "invalid %s: %q", p.name, raw)
		}
		*p.dst = n
	}
	return sel, nil
}

func (s *Server) input(sess *session.Session) assembler.Input {
	snap := sess.Current()
	return assembler.Input{Trace: snap.Trace, Key: sess.ID, Generation: snap.Generation}
}

func (s *Server) panel(w http.ResponseWriter, r *http.Request) (*assembler.Panel, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, false
	}
	sel, err := s.selection(r.URL.Query())
	if err != nil {
		writeLensError(w, err)
		return nil, false
	}
	return s.assembler.Assemble(r.Context(), s.input(sess), sel), true
}

func (s *Server) getPanel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panel(w, r)
	if !ok {
		return
	}
	metrics.RecordViewRequest("panel")
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getSection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sel, err := s.selection(r.URL.Query())
	if err != nil {
		writeLensError(w, err)
		return
	}
	name := r.PathValue("name")
	sec, err := s.assembler.Section(r.Context(), s.input(sess), sel, name)
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	}
	metrics.RecordViewRequest(name)
	writeJSON(w, http.StatusOK, sec)
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panel(w, r)
	if !ok {
		return
	}
	metrics.RecordViewRequest("render")

	var buf bytes.Buffer
	if err := render.Render(&buf, p); err != nil {
		s.log.Error("Render failed", "error", err)
		writeError(w, http.StatusInternalServerError, string(lenserr.CodeInternal), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) (*export.Batch, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, false
	}
	b, err := export.FromTrace(sess.Current().Trace)
	if err != nil {
		writeLensError(w, err)
		return nil, false
	}
	return b, true
}

func (s *Server) exportArrow(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batch(w, r)
	if !ok {
		return
	}
	metrics.RecordViewRequest("export")

	var buf bytes.Buffer
	if err := export.WriteIPC(&buf, b); err != nil {
		writeError(w, http.StatusInternalServerError, string(lenserr.CodeInternal), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	w.Header().Set("Content-Disposition", `attachment; filename="embeddings.arrow"`)
	w.Write(buf.Bytes())
}

func (s *Server) pushFlight(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeError(w, http.StatusServiceUnavailable, codeFlight, "flight export disabled")
		return
	}
	b, ok := s.batch(w, r)
	if !ok {
		return
	}
	if err := export.Push(r.Context(), s.sink, b); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, export.ErrNotConnected) || errors.Is(err, export.ErrSinkClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, codeFlight, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": b.Len(), "trace_id": b.TraceID})
}
