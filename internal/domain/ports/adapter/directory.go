package adapter

import (
	"context"

	"ostrid-adapter/internal/domain/model"
)

// SpecialistDirectory is the discovery collaborator: given the requested
// dimensions it returns candidate specialists with their capability vectors.
type SpecialistDirectory interface {
	Query(ctx context.Context, dimensions []string) ([]model.Specialist, error)
}
