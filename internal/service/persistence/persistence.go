// Package persistence stores recorded audio under a temporary identity and later
// moves it to the permanent lecture identity.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/service/audiofmt"
	"lecture-capture-service/internal/service/storage"
)

// ErrAlreadyReorganized is returned when a record already has a final identity.
var ErrAlreadyReorganized = errors.New("record already reorganized")

// Service uploads and reorganizes audio objects.
type Service struct {
	store  storage.ObjectStore
	logger zerolog.Logger
}

// New creates a persistence service. A nil store makes every call fail with StorageUnavailable.
func New(store storage.ObjectStore) *Service {
	return &Service{
		store:  store,
		logger: logging.WithComponent("persistence"),
	}
}

// Path returns the storage path for an audio object.
func Path(userID, id, ext string) string {
	return fmt.Sprintf("%s/%s.%s", userID, id, ext)
}

// Upload stores the artifact under {userID}/{tempID}.{ext}.
func (s *Service) Upload(ctx context.Context, userID, tempID string, artifact *models.AudioArtifact) (*models.PersistedAudioRecord, error) {
	if s.store == nil {
		return nil, models.NewError(models.KindStorageUnavailable, "object storage is not configured", nil)
	}
	if userID == "" || tempID == "" {
		return nil, models.NewError(models.KindUploadFailed, "user id and temp id are required", nil)
	}
	if artifact.Empty() {
		return nil, models.NewError(models.KindEmptyCapture, "no audio to upload", nil)
	}

	mimeType, ext := audiofmt.Normalize(artifact.MimeType, artifact.Data)
	path := Path(userID, tempID, ext)

	publicURL, err := s.store.Put(ctx, path, artifact.Data, mimeType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewError(models.KindCancelled, "upload cancelled", ctx.Err())
		}
		return nil, models.NewError(models.KindUploadFailed, "failed to store audio", err)
	}
	if !validURL(publicURL) {
		return nil, models.NewError(models.KindUploadFailed, fmt.Sprintf("storage returned an invalid url %q", publicURL), nil)
	}

	s.logger.Info().
		Str("userId", userID).
		Str("tempId", tempID).
		Str("path", path).
		Int64("bytes", artifact.SizeBytes).
		Msg("Audio uploaded")

	return &models.PersistedAudioRecord{
		UserID:      userID,
		TempID:      tempID,
		StoragePath: path,
		PublicURL:   publicURL,
		Extension:   ext,
	}, nil
}

// Reorganize copies {userID}/{tempID}.{ext} to {userID}/{finalID}.{ext} and deletes the
// temp object. Deletion failure is logged only; the final copy is authoritative.
func (s *Service) Reorganize(ctx context.Context, userID, tempID, finalID, ext string) (*models.PersistedAudioRecord, error) {
	if s.store == nil {
		return nil, models.NewError(models.KindStorageUnavailable, "object storage is not configured", nil)
	}
	if userID == "" || tempID == "" || finalID == "" {
		return nil, models.NewError(models.KindUploadFailed, "user id, temp id and final id are required", nil)
	}
	if ext == "" {
		ext = audiofmt.DefaultExtension
	}

	tempPath := Path(userID, tempID, ext)
	finalPath := Path(userID, finalID, ext)
	logger := s.logger.With().
		Str("userId", userID).
		Str("tempId", tempID).
		Str("finalId", finalID).
		Logger()

	data, err := s.store.Get(ctx, tempPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.NewError(models.KindNotFound, fmt.Sprintf("temp audio %s not found", tempPath), err)
		}
		if ctx.Err() != nil {
			return nil, models.NewError(models.KindCancelled, "reorganize cancelled", ctx.Err())
		}
		return nil, models.NewError(models.KindStorageUnavailable, "failed to read temp audio", err)
	}

	publicURL, err := s.store.Put(ctx, finalPath, data, audiofmt.MIMEForExtension(ext))
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewError(models.KindCancelled, "reorganize cancelled", ctx.Err())
		}
		return nil, models.NewError(models.KindUploadFailed, "failed to store final audio", err)
	}
	if !validURL(publicURL) {
		return nil, models.NewError(models.KindUploadFailed, fmt.Sprintf("storage returned an invalid url %q", publicURL), nil)
	}

	if tempPath != finalPath {
		if err := s.store.Delete(ctx, tempPath); err != nil {
			logger.Warn().Err(err).Str("path", tempPath).Msg("Failed to delete temp audio after reorganize")
		}
	}

	logger.Info().Str("path", finalPath).Msg("Audio reorganized")

	return &models.PersistedAudioRecord{
		UserID:      userID,
		TempID:      tempID,
		FinalID:     finalID,
		StoragePath: finalPath,
		PublicURL:   publicURL,
		Extension:   ext,
	}, nil
}

// ReorganizeRecord reorganizes a record produced by Upload. A record is reorganized at most once.
func (s *Service) ReorganizeRecord(ctx context.Context, rec *models.PersistedAudioRecord, finalID string) (*models.PersistedAudioRecord, error) {
	if rec == nil {
		return nil, models.NewError(models.KindNotFound, "no audio record", nil)
	}
	if rec.Reorganized() {
		return nil, fmt.Errorf("reorganize %s: %w", rec.TempID, ErrAlreadyReorganized)
	}
	return s.Reorganize(ctx, rec.UserID, rec.TempID, finalID, rec.Extension)
}

func validURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
