package repositories

import (
	"context"

	"github.com/blip/backend/internal/models"
)

// UserRepository is the read side of the user directory.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}
