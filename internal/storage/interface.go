package storage

import (
	"context"

	"github.com/mcoot/partylobby/internal/model"
)

// PlayerStore defines persistence for Player Directory records.
// Implementations return copies; callers mutate and save explicitly.
type PlayerStore interface {
	SavePlayer(ctx context.Context, player *model.Player) error
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
	DeletePlayer(ctx context.Context, id model.PlayerID) error
	ListPlayers(ctx context.Context) ([]*model.Player, error)
}
