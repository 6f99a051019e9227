package mediasvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	"github.com/mkrupp/mediavault/internal/util/encoding"
)

// publicTokenBytes is the entropy of a share token.
const publicTokenBytes = 20

// Get implements MediaService.Get.
func (svc *UploadService) Get(ctx context.Context, mediaUUID string) (domain.MediaFile, error) {
	file, found, err := svc.repo.FindByUUID(ctx, mediaUUID)
	if err != nil {
		return domain.MediaFile{}, fmt.Errorf("find by uuid: %w", err)
	}

	if !found {
		return domain.MediaFile{}, fmt.Errorf("%w: %s", domain.ErrMediaNotFound, mediaUUID)
	}

	return *file, nil
}

// GetByPublicToken implements MediaService.GetByPublicToken.
// Transcription variants of a token resolve to the same record; malformed
// tokens are not found without a lookup.
func (svc *UploadService) GetByPublicToken(ctx context.Context, token string) (domain.MediaFile, error) {
	raw, err := encoding.DecodeCrockfordB32LC(token)
	if err != nil || len(raw) != publicTokenBytes {
		return domain.MediaFile{}, domain.ErrMediaNotFound
	}

	file, found, err := svc.repo.FindByPublicToken(ctx, encoding.EncodeCrockfordB32LC(raw))
	if err != nil {
		return domain.MediaFile{}, fmt.Errorf("find by token: %w", err)
	}

	if !found {
		return domain.MediaFile{}, domain.ErrMediaNotFound
	}

	return *file, nil
}

// Open implements MediaService.Open.
func (svc *UploadService) Open(ctx context.Context, file domain.MediaFile) (io.ReadCloser, error) {
	if file.Status == domain.MediaStatusQuarantine {
		return nil, fmt.Errorf("%w: %s", domain.ErrQuarantined, file.UUID)
	}

	reader, err := svc.driver.Get(ctx, file.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	return reader, nil
}

// Quarantine implements MediaService.Quarantine.
func (svc *UploadService) Quarantine(ctx context.Context, mediaUUID string) (file domain.MediaFile, err error) {
	log := svc.log.With(logging.Group("media", "uuid", mediaUUID))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "media quarantine failed", "error", err)
		} else {
			log.InfoContext(ctx, "media quarantined", "path", file.StoragePath())
		}
	}()

	if file, err = svc.Get(ctx, mediaUUID); err != nil {
		return domain.MediaFile{}, err
	}

	if file.Status == domain.MediaStatusQuarantine {
		return file, nil
	}

	target := QuarantinePath(file.DiskPath)
	if err := svc.move(ctx, file.DiskPath, target, file.SizeBytes); err != nil {
		return domain.MediaFile{}, err
	}

	if err := svc.repo.UpdateStatus(ctx, mediaUUID, domain.MediaStatusQuarantine, &target); err != nil {
		return domain.MediaFile{}, fmt.Errorf("update status: %w", err)
	}

	file.Status = domain.MediaStatusQuarantine
	file.QuarantinePath = &target

	return file, nil
}

// Release implements MediaService.Release.
func (svc *UploadService) Release(ctx context.Context, mediaUUID string) (file domain.MediaFile, err error) {
	log := svc.log.With(logging.Group("media", "uuid", mediaUUID))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "media release failed", "error", err)
		} else {
			log.InfoContext(ctx, "media released", "path", file.DiskPath)
		}
	}()

	if file, err = svc.Get(ctx, mediaUUID); err != nil {
		return domain.MediaFile{}, err
	}

	if file.Status != domain.MediaStatusQuarantine {
		return file, nil
	}

	if file.QuarantinePath != nil {
		if err := svc.move(ctx, *file.QuarantinePath, file.DiskPath, file.SizeBytes); err != nil {
			return domain.MediaFile{}, err
		}
	}

	if err := svc.repo.UpdateStatus(ctx, mediaUUID, domain.MediaStatusReady, nil); err != nil {
		return domain.MediaFile{}, fmt.Errorf("update status: %w", err)
	}

	file.Status = domain.MediaStatusReady
	file.QuarantinePath = nil

	return file, nil
}

// move copies an object to a new path and deletes the source. A missing source
// whose target already exists counts as moved, so an interrupted move can be retried.
func (svc *UploadService) move(ctx context.Context, from, to string, size int64) error {
	reader, err := svc.driver.Get(ctx, from)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			if exists, existsErr := svc.driver.Exists(ctx, to); existsErr == nil && exists {
				return nil
			}
		}

		return fmt.Errorf("get object: %w", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object: %w", err)
	}

	if err := svc.driver.Put(ctx, to, bytes.NewReader(body), size); err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	if err := svc.driver.Delete(ctx, from); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	return nil
}

// SetPublic implements MediaService.SetPublic.
func (svc *UploadService) SetPublic(ctx context.Context, mediaUUID string, public bool) (file domain.MediaFile, err error) {
	defer func() {
		if err != nil {
			svc.log.ErrorContext(ctx, "media set-public failed", "uuid", mediaUUID, "error", err)
		} else {
			svc.log.InfoContext(ctx, "media visibility changed", "uuid", mediaUUID, "public", public)
		}
	}()

	if file, err = svc.Get(ctx, mediaUUID); err != nil {
		return domain.MediaFile{}, err
	}

	var token *string

	if public {
		if file.PublicToken != nil {
			token = file.PublicToken
		} else {
			issued, err := encoding.NewRandomCrockfordB32LC(publicTokenBytes)
			if err != nil {
				return domain.MediaFile{}, fmt.Errorf("new token: %w", err)
			}

			token = &issued
		}
	}

	if err := svc.repo.SetPublic(ctx, mediaUUID, public, token); err != nil {
		return domain.MediaFile{}, fmt.Errorf("set public: %w", err)
	}

	file.IsPublic = public
	file.PublicToken = token

	return file, nil
}
