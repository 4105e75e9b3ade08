package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/types"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps request bodies; a 128-d batch of a few thousand faces fits comfortably.
const maxBodyBytes = 16 << 20

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// FaceRequest is a detected face submitted for clustering.
type FaceRequest struct {
	ID          string          `json:"id,omitempty"`
	Embedding   types.Embedding `json:"embedding"`
	SourceImage string          `json:"sourceImage"`
	Region      types.Region    `json:"region"`
	Landmarks   []types.Point   `json:"landmarks,omitempty"`
}

func (f FaceRequest) face() types.Face {
	return types.Face{
		ID:          f.ID,
		Embedding:   f.Embedding,
		SourceImage: f.SourceImage,
		Region:      f.Region,
		Landmarks:   f.Landmarks,
	}
}

// FaceResponse reports the group a face joined.
type FaceResponse struct {
	GroupID string `json:"groupId"`
}

// BatchRequest submits faces in order.
type BatchRequest struct {
	Faces []FaceRequest `json:"faces"`
}

// BatchError describes one rejected face of a batch.
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResponse has one group id per submitted face, "" for rejected faces.
type BatchResponse struct {
	GroupIDs []string     `json:"groupIds"`
	Errors   []BatchError `json:"errors,omitempty"`
}

// GroupSummary is the list view of a person group.
type GroupSummary struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	FaceCount int    `json:"faceCount"`
}

// LabelRequest renames a group. An empty label is allowed, a missing one is not.
type LabelRequest struct {
	Label *string `json:"label"`
}

// MergeRequest names the group that absorbs the one in the URL.
type MergeRequest struct {
	TargetID string `json:"targetId"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, types.ErrorResult{Error: message})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cluster.ErrInvalidInput), errors.Is(err, cluster.ErrDetectionIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cluster.ErrInvalidOperation):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.WithField("path", r.URL.Path).WithError(err).Error("Request failed")
	}
	respondError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: %w", errInvalidRequestBody, err)
	}
	return nil
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// healthCheck handles the health check endpoint.
func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) processFace(w http.ResponseWriter, r *http.Request) {
	var req FaceRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.engine.ProcessFace(r.Context(), req.face())
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, FaceResponse{GroupID: id})
}

func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	faces := make([]types.Face, len(req.Faces))
	for i, f := range req.Faces {
		faces[i] = f.face()
	}

	// Per-face errors are reported individually, so the joined error is only needed on cancellation.
	ids, err := s.engine.ProcessBatch(r.Context(), faces)
	if ctxErr := r.Context().Err(); ctxErr != nil {
		s.respondEngineError(w, r, ctxErr)
		return
	}

	resp := BatchResponse{GroupIDs: ids}
	if err != nil {
		for _, e := range unwrapJoined(err) {
			var fe *cluster.FaceError
			if errors.As(e, &fe) {
				resp.Errors = append(resp.Errors, BatchError{Index: fe.Index, Error: fe.Err.Error()})
			}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// unwrapJoined splits an errors.Join result back into its parts.
func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.engine.ListGroups()
	out := make([]GroupSummary, len(groups))
	for i, g := range groups {
		out[i] = GroupSummary{ID: g.ID, Label: g.Label, FaceCount: len(g.Faces)}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.Group(chi.URLParam(r, "id"))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) relabelGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LabelRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Label == nil {
		respondError(w, http.StatusBadRequest, "label is required")
		return
	}

	if err := s.engine.Relabel(r.Context(), id, *req.Label); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	s.log.WithField("group", sanitizeForLog(id)).Debug("Group relabeled over HTTP")
	respondJSON(w, http.StatusOK, GroupSummary{ID: id, Label: *req.Label, FaceCount: s.faceCount(id)})
}

func (s *Server) mergeGroup(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	var req MergeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TargetID == "" {
		respondError(w, http.StatusBadRequest, "targetId is required")
		return
	}

	if err := s.engine.Merge(r.Context(), sourceID, req.TargetID); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	g, err := s.engine.Group(req.TargetID)
	if err != nil {
		// Merging two persons restored from storage creates no in-session group.
		respondJSON(w, http.StatusOK, GroupSummary{ID: req.TargetID})
		return
	}
	respondJSON(w, http.StatusOK, GroupSummary{ID: g.ID, Label: g.Label, FaceCount: len(g.Faces)})
}

// faceCount returns the in-session face count of a group, 0 for persons not seen this session.
func (s *Server) faceCount(id string) int {
	g, err := s.engine.Group(id)
	if err != nil {
		return 0
	}
	return len(g.Faces)
}
