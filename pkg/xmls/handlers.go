package xmls

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type handler struct {
	service *Service
}

// ListXMLsQuery are the accepted query params for listing processed
// documents.
type ListXMLsQuery struct {
	After  string `query:"after" json:"after"`
	Search string `query:"search" json:"search" mod:"trim"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"min=1,max=1000"`
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListXMLsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListOptions{Limit: &params.Limit}
	if params.After != "" {
		opts.After = &params.After
	}
	if params.Search != "" {
		opts.Search = &params.Search
	}

	rows, err := h.service.List(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		XMLs []*XML `json:"xmls"`
	}{rows}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

// RegisterRoutesWithGroup registers xml routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	h := &handler{service: NewService(db)}

	g.GET("", h.list)
}
