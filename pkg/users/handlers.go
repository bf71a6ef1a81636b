package users

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type handler struct {
	service *Service
}

// UpsertUserPayload registers or refreshes a directory entry used for artist
// matching.
type UpsertUserPayload struct {
	APIKey string `json:"api_key" mod:"trim" validate:"required"`
	ID     string `json:"id" mod:"trim" validate:"required"`
	Handle string `json:"handle" mod:"trim"`
	Name   string `json:"name" mod:"trim" validate:"required"`
}

func (h *handler) upsert(c echo.Context) error {
	ctx := c.Request().Context()

	params := UpsertUserPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	user := &User{
		APIKey: params.APIKey,
		ID:     params.ID,
		Handle: params.Handle,
		Name:   params.Name,
	}
	if err := h.service.Upsert(ctx, user); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, user))
}

// ListUsersQuery scopes the listing to one source's API key.
type ListUsersQuery struct {
	APIKey string `query:"api_key" json:"api_key" validate:"required"`
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListUsersQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	rows, err := h.service.List(ctx, params.APIKey)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Users []*User `json:"users"`
	}{rows}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := h.service.Retrieve(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, user))
}

// RegisterRoutesWithGroup registers user directory routes on a
// pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	h := &handler{service: NewService(db)}

	g.GET("", h.list)
	g.POST("", h.upsert)
	g.GET("/:id", h.retrieve)
}
