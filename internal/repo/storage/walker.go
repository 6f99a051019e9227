package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkrupp/mediavault/internal/domain"
)

// ErrStopWalk can be returned by a WalkFunc to end the walk early without error.
var ErrStopWalk = errors.New("stop walk")

// WalkFunc is called for every object below the walked prefix.
type WalkFunc func(info domain.ObjectInfo) error

// Walk calls fn for every object under prefix. A listing failure is returned
// wrapped in domain.ErrStorageListFailed; errors from fn are returned as is.
func Walk(ctx context.Context, driver Driver, prefix string, fn WalkFunc) error {
	for info, err := range driver.List(ctx, prefix) {
		if err != nil {
			return errors.Join(domain.ErrStorageListFailed, err)
		}

		if err := fn(info); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}

			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return errors.Join(domain.ErrStorageListFailed, err)
	}

	return nil
}

// Collect lists all objects under prefix. On any listing failure no partial
// result is returned.
func Collect(ctx context.Context, driver Driver, prefix string) ([]domain.ObjectInfo, error) {
	var objects []domain.ObjectInfo

	if err := Walk(ctx, driver, prefix, func(info domain.ObjectInfo) error {
		objects = append(objects, info)

		return nil
	}); err != nil {
		return nil, fmt.Errorf("collect %q: %w", prefix, err)
	}

	return objects, nil
}
