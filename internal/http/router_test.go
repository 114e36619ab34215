package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"lecture-capture-service/internal/app"
	"lecture-capture-service/internal/config"
	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/bridge"
	"lecture-capture-service/internal/service/lectures"
	"lecture-capture-service/internal/service/pipeline"
)

func newTestRouter(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()
	a := app.New(config.Defaults())
	a.Metrics = metrics.NewUnregistered()
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return NewRouter(a), a
}

func multipartAudio(t *testing.T, fields map[string]string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if data != nil {
		part, err := mw.CreateFormFile("file", "lecture.webm")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write(data)
	}
	_ = mw.Close()
	return body, mw.FormDataContentType()
}

func do(h http.Handler, method, path, user, contentType string, body *bytes.Buffer) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t)

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		if rec := do(h, http.MethodGet, path, "", "", nil); rec.Code != http.StatusOK {
			t.Errorf("expected 200 for %s, got %d", path, rec.Code)
		}
	}
}

func TestRouter_RequiresUser(t *testing.T) {
	h, _ := newTestRouter(t)

	if rec := do(h, http.MethodGet, "/v1/lectures/lec-1", "", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/lectures/lec-1", "bad/user", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRouter_UploadAndReorganize(t *testing.T) {
	h, _ := newTestRouter(t)

	body, ct := multipartAudio(t, map[string]string{"tempId": "tmp-abc"}, []byte("webm-bytes"))
	rec := do(h, http.MethodPost, "/v1/audio/upload", "user-1", ct, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded models.PersistedAudioRecord
	_ = json.Unmarshal(rec.Body.Bytes(), &uploaded)
	if uploaded.TempID != "tmp-abc" || uploaded.PublicURL == "" {
		t.Errorf("unexpected upload record %+v", uploaded)
	}

	reqBody, _ := json.Marshal(ReorganizeRequest{TempID: "tmp-abc", FinalID: "lec-123", Extension: uploaded.Extension})
	rec = do(h, http.MethodPost, "/v1/audio/reorganize", "user-1", "application/json", bytes.NewBuffer(reqBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var moved models.PersistedAudioRecord
	_ = json.Unmarshal(rec.Body.Bytes(), &moved)
	if moved.FinalID != "lec-123" || !strings.Contains(moved.PublicURL, "lec-123") {
		t.Errorf("unexpected reorganized record %+v", moved)
	}

	// temp object is gone now
	rec = do(h, http.MethodPost, "/v1/audio/reorganize", "user-1", "application/json", bytes.NewBuffer(reqBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing temp audio, got %d", rec.Code)
	}
}

func TestRouter_ReorganizeRejectsForeignLecture(t *testing.T) {
	h, a := newTestRouter(t)
	ctx := context.Background()

	victim := &lectures.Lecture{LectureID: "lec-victim", UserID: "victim", AudioURL: "memory://audio/victim/tmp-v.webm", TranscriptionStatus: lectures.StatusCompleted}
	if err := a.Lectures.Create(ctx, victim); err != nil {
		t.Fatalf("create lecture: %v", err)
	}

	body, ct := multipartAudio(t, map[string]string{"tempId": "tmp-evil"}, []byte("webm-bytes"))
	rec := do(h, http.MethodPost, "/v1/audio/upload", "attacker", ct, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded models.PersistedAudioRecord
	_ = json.Unmarshal(rec.Body.Bytes(), &uploaded)

	reqBody, _ := json.Marshal(ReorganizeRequest{TempID: "tmp-evil", FinalID: "lec-victim", Extension: uploaded.Extension})
	rec = do(h, http.MethodPost, "/v1/audio/reorganize", "attacker", "application/json", bytes.NewBuffer(reqBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user's lecture, got %d", rec.Code)
	}

	lec, err := a.Lectures.Get(ctx, "lec-victim")
	if err != nil {
		t.Fatalf("get lecture: %v", err)
	}
	if lec.AudioURL != victim.AudioURL {
		t.Errorf("expected audio url %q to be untouched, got %q", victim.AudioURL, lec.AudioURL)
	}

	// the temp upload is still in place for its owner
	reqBody, _ = json.Marshal(ReorganizeRequest{TempID: "tmp-evil", FinalID: "lec-own", Extension: uploaded.Extension})
	if rec := do(h, http.MethodPost, "/v1/audio/reorganize", "attacker", "application/json", bytes.NewBuffer(reqBody)); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for an unclaimed lecture id, got %d", rec.Code)
	}
}

func TestRouter_ReorganizeUpdatesOwnLecture(t *testing.T) {
	h, a := newTestRouter(t)
	ctx := context.Background()

	if err := a.Lectures.Create(ctx, &lectures.Lecture{LectureID: "lec-1", UserID: "user-1", AudioURL: "old", TranscriptionStatus: lectures.StatusCompleted}); err != nil {
		t.Fatalf("create lecture: %v", err)
	}
	body, ct := multipartAudio(t, map[string]string{"tempId": "tmp-1"}, []byte("webm-bytes"))
	rec := do(h, http.MethodPost, "/v1/audio/upload", "user-1", ct, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var uploaded models.PersistedAudioRecord
	_ = json.Unmarshal(rec.Body.Bytes(), &uploaded)

	reqBody, _ := json.Marshal(ReorganizeRequest{TempID: "tmp-1", FinalID: "lec-1", Extension: uploaded.Extension})
	rec = do(h, http.MethodPost, "/v1/audio/reorganize", "user-1", "application/json", bytes.NewBuffer(reqBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var moved models.PersistedAudioRecord
	_ = json.Unmarshal(rec.Body.Bytes(), &moved)

	lec, _ := a.Lectures.Get(ctx, "lec-1")
	if lec == nil || lec.AudioURL != moved.PublicURL {
		t.Errorf("expected lecture audio url %q, got %+v", moved.PublicURL, lec)
	}
}

func TestRouter_ProcessRejectsUnknownDetail(t *testing.T) {
	h, _ := newTestRouter(t)

	body, ct := multipartAudio(t, map[string]string{"detail": "verbose"}, []byte("webm-bytes"))
	if rec := do(h, http.MethodPost, "/v1/lectures/process", "user-1", ct, body); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown detail, got %d", rec.Code)
	}
}

func TestRouter_UploadRejectsMissingFile(t *testing.T) {
	h, _ := newTestRouter(t)

	body, ct := multipartAudio(t, nil, nil)
	if rec := do(h, http.MethodPost, "/v1/audio/upload", "user-1", ct, body); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	body, ct = multipartAudio(t, nil, []byte{})
	if rec := do(h, http.MethodPost, "/v1/audio/upload", "user-1", ct, body); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for empty audio, got %d", rec.Code)
	}
}

func TestRouter_Transcribe(t *testing.T) {
	h, _ := newTestRouter(t)

	body, ct := multipartAudio(t, nil, []byte("webm-bytes"))
	rec := do(h, http.MethodPost, "/v1/transcribe", "user-1", ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res models.TranscriptionResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.OK || res.Value != app.MockTranscript {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRouter_ProcessAndGetLecture(t *testing.T) {
	h, _ := newTestRouter(t)

	body, ct := multipartAudio(t, map[string]string{"tempId": "tmp-abc", "lectureId": "lec-123", "title": "Heat"}, []byte("webm-bytes"))
	rec := do(h, http.MethodPost, "/v1/lectures/process", "user-1", ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res pipeline.Result
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.LectureID != "lec-123" || res.Notes == "" || !strings.Contains(res.AudioURL, "lec-123") {
		t.Errorf("unexpected pipeline result %+v", res)
	}

	rec = do(h, http.MethodGet, "/v1/lectures/lec-123", "user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var lec lectures.Lecture
	_ = json.Unmarshal(rec.Body.Bytes(), &lec)
	if lec.TranscriptionStatus != lectures.StatusCompleted || lec.AudioURL != res.AudioURL {
		t.Errorf("unexpected lecture %+v", lec)
	}

	if rec := do(h, http.MethodGet, "/v1/lectures/lec-123", "user-2", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/lectures/lec-missing", "user-1", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing lecture, got %d", rec.Code)
	}
}

func TestRouter_RecordingSocket(t *testing.T) {
	h, _ := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	header := http.Header{}
	header.Set(UserHeader, "user-1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/recordings/ws", header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(bridge.Envelope{ID: "1", Type: bridge.TypeCommand, Op: bridge.CmdStatus}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var resp bridge.Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Type != bridge.TypeResponse || resp.ID != "1" || resp.Error == "" {
		t.Errorf("expected error response to status without a session, got %+v", resp)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		want int
	}{
		{models.KindNone, http.StatusOK},
		{models.KindEmptyCapture, http.StatusUnprocessableEntity},
		{models.KindEmptyAudio, http.StatusUnprocessableEntity},
		{models.KindUnsupportedFormat, http.StatusUnsupportedMediaType},
		{models.KindBackendRejected, http.StatusUnprocessableEntity},
		{models.KindServiceUnavailable, http.StatusServiceUnavailable},
		{models.KindStorageUnavailable, http.StatusServiceUnavailable},
		{models.KindNotFound, http.StatusNotFound},
		{models.KindUploadFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := StatusForKind(tt.kind); got != tt.want {
			t.Errorf("StatusForKind(%s): expected %d, got %d", tt.kind, tt.want, got)
		}
	}
}
