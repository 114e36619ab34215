package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"lecture-capture-service/internal/app"
	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/service/bridge"
	"lecture-capture-service/internal/service/ids"
	"lecture-capture-service/internal/service/lectures"
	"lecture-capture-service/internal/service/notes"
	"lecture-capture-service/internal/service/pipeline"
)

// UserHeader carries the caller's identity. Authentication happens upstream.
const UserHeader = "X-User-ID"

type ctxKey struct{}

var validate = validator.New(validator.WithRequiredStructEnabled())

type handlers struct {
	app      *app.Application
	upgrader websocket.Upgrader
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusForKind maps an error kind to an HTTP status.
func StatusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindNone:
		return http.StatusOK
	case models.KindEmptyCapture, models.KindEmptyAudio, models.KindBackendRejected:
		return http.StatusUnprocessableEntity
	case models.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case models.KindServiceUnavailable, models.KindStorageUnavailable, models.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUploadFailed:
		return http.StatusBadGateway
	case models.KindPermissionDenied:
		return http.StatusForbidden
	case models.KindCancelled:
		// client closed request
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", UserHeader+" header is required")
			return
		}
		if !ids.Valid(userID) {
			writeError(w, http.StatusBadRequest, "InvalidUser", "invalid "+UserHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeKindError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	code := string(kind)
	if kind == models.KindNone {
		code = "InternalError"
	}
	writeError(w, StatusForKind(kind), code, models.MessageOf(err))
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.app.Ready(ctx); err != nil {
		log.Warn().Err(err).Msg("Readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// readAudio reads the "file" part of a multipart form. The form's other fields
// are returned in form.
func (h *handlers) readAudio(w http.ResponseWriter, r *http.Request) (*models.AudioArtifact, *multipart.Form, bool) {
	limit := h.app.Cfg.Storage.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TooLarge", fmt.Sprintf("audio exceeds %d bytes", limit))
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "BadRequest", "expected multipart form with a file field")
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "file field is required")
		return nil, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "failed to read audio")
		return nil, nil, false
	}
	if len(data) == 0 {
		writeError(w, StatusForKind(models.KindEmptyAudio), string(models.KindEmptyAudio), "audio is empty")
		return nil, nil, false
	}
	return models.NewAudioArtifact(data, header.Header.Get("Content-Type"), 0), r.MultipartForm, true
}

func formValue(form *multipart.Form, key string) string {
	if form == nil {
		return ""
	}
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (h *handlers) uploadAudio(w http.ResponseWriter, r *http.Request) {
	artifact, form, ok := h.readAudio(w, r)
	if !ok {
		return
	}
	tempID := formValue(form, "tempId")
	if tempID == "" {
		tempID = ids.NewTempID()
	} else if !ids.Valid(tempID) {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid tempId")
		return
	}

	rec, err := h.app.Audio.Upload(r.Context(), userFrom(r), tempID, artifact)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ReorganizeRequest is the body of POST /v1/audio/reorganize.
type ReorganizeRequest struct {
	TempID    string `json:"tempId" validate:"required,max=128"`
	FinalID   string `json:"finalId" validate:"required,max=128"`
	Extension string `json:"extension" validate:"omitempty,alphanum,max=8"`
}

func (h *handlers) reorganizeAudio(w http.ResponseWriter, r *http.Request) {
	var req ReorganizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil || !ids.Valid(req.TempID) || !ids.Valid(req.FinalID) {
		writeError(w, http.StatusBadRequest, "BadRequest", "tempId and finalId must be valid identifiers")
		return
	}

	userID := userFrom(r)
	owned := false
	lec, err := h.app.Lectures.Get(r.Context(), req.FinalID)
	switch {
	case err == nil && lec.UserID != userID:
		writeError(w, http.StatusNotFound, string(models.KindNotFound), "lecture not found")
		return
	case err == nil:
		owned = true
	case !errors.Is(err, lectures.ErrNotFound):
		log.Warn().Err(err).Str("lectureId", req.FinalID).Msg("Lecture lookup failed, audio URL will not be updated")
	}

	rec, err := h.app.Audio.Reorganize(r.Context(), userID, req.TempID, req.FinalID, req.Extension)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if owned {
		if err := h.app.Lectures.UpdateAudioURL(r.Context(), req.FinalID, rec.PublicURL); err != nil {
			log.Warn().Err(err).Str("lectureId", req.FinalID).Msg("Lecture audio URL not updated")
		}
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	artifact, _, ok := h.readAudio(w, r)
	if !ok {
		return
	}
	res := h.app.Transcription.Transcribe(r.Context(), artifact)
	writeJSON(w, StatusForKind(res.ErrorKind), res)
}

func (h *handlers) processLecture(w http.ResponseWriter, r *http.Request) {
	artifact, form, ok := h.readAudio(w, r)
	if !ok {
		return
	}
	pc := pipeline.PersistenceContext{
		UserID:    userFrom(r),
		TempID:    formValue(form, "tempId"),
		LectureID: formValue(form, "lectureId"),
		Options: notes.Options{
			Title:    formValue(form, "title"),
			Subject:  formValue(form, "subject"),
			Language: formValue(form, "language"),
			Detail:   formValue(form, "detail"),
		},
	}
	if err := validate.Struct(pc.Options); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "detail must be brief or detailed")
		return
	}
	for _, id := range []string{pc.TempID, pc.LectureID} {
		if id != "" && !ids.Valid(id) {
			writeError(w, http.StatusBadRequest, "BadRequest", "invalid identifier "+id)
			return
		}
	}

	res := h.app.Pipeline.Run(r.Context(), artifact, pc)
	writeJSON(w, StatusForKind(res.Error), res)
}

func (h *handlers) getLecture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lec, err := h.app.Lectures.Get(r.Context(), id)
	if errors.Is(err, lectures.ErrNotFound) || (err == nil && lec.UserID != userFrom(r)) {
		writeError(w, http.StatusNotFound, string(models.KindNotFound), "lecture not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, string(models.KindStorageUnavailable), "lecture store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, lec)
}

func (h *handlers) recordingSocket(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	peer := bridge.NewPeer(conn)
	if err := h.app.Controller(peer, userID).Serve(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debug().Err(err).Str("userId", userID).Msg("Recording socket closed")
	}
}
