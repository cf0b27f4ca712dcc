package redis

import (
	"fmt"

	"github.com/mcoot/partylobby/internal/model"
)

// Key prefix for all lobby data
const keyPrefix = "lobby"

// playerKey returns the Redis key for a Player
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// playerIndexKey returns the Redis key for the SET of known player ids
func playerIndexKey() string {
	return fmt.Sprintf("%s:idx:players", keyPrefix)
}
