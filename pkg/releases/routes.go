package releases

import (
	"github.com/labstack/echo/v4"
	"github.com/tonefeed/ddexd/pkg/storage"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers release routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, store storage.ObjectStore) {
	h := &handler{
		service: NewService(db),
		store:   store,
	}

	g.GET("", h.list)
	g.GET("/stats", h.stats)
	g.GET("/:key", h.retrieve)
	g.PUT("/:key/prepend-artist", h.prependArtist)
	g.GET("/:key/assets/:ref", h.asset)
}
