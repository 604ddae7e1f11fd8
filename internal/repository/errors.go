package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/damoang/angple-chat/internal/common"
	"gorm.io/gorm"
)

// mapDBError folds driver errors into the shared taxonomy
func mapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	case isTaxonomy(err):
		return err
	default:
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
}

func isTaxonomy(err error) bool {
	for _, target := range []error{
		common.ErrValidation, common.ErrAuthorization, common.ErrConflict,
		common.ErrNotFound, common.ErrTransient, common.ErrUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
