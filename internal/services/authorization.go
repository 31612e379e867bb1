package services

import (
	"context"

	contextutils "mcqgen/internal/utils"
)

// requireOwner checks that ownerID exists and that actorID acts for it.
// hint is appended to the not-found message.
func requireOwner(ctx context.Context, users UserStore, actorID, ownerID int, hint string) error {
	if _, err := users.GetByID(ctx, ownerID); err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			if hint == "" {
				return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user %d not found", ownerID)
			}
			return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user %d not found, %s", ownerID, hint)
		}
		return err
	}
	if actorID != ownerID {
		return contextutils.WrapError(contextutils.ErrForbidden, "unauthorized access")
	}
	return nil
}
