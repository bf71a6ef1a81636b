package users

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a catalog user that authorized a source (identified by its API
// key) to publish on their behalf. The same user may authorize several
// sources, hence the composite key.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	APIKey    string    `bun:"api_key,pk" json:"api_key"`
	ID        string    `bun:"id,pk" json:"id"`
	Handle    string    `bun:"handle" json:"handle"`
	Name      string    `bun:"name" json:"name"`
	CreatedAt time.Time `bun:"created_at,nullzero" json:"created_at"`
}
