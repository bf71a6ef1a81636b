package releases

import (
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tonefeed/ddexd/pkg/storage"
)

type handler struct {
	service *Service
	store   storage.ObjectStore
}

// ListReleasesQuery are the accepted query params for listing releases.
type ListReleasesQuery struct {
	Status         string `query:"status" json:"status" validate:"omitempty,oneof=Blocked PublishPending Published Failed DeletePending Deleted"`
	Source         string `query:"source" json:"source" mod:"trim"`
	Search         string `query:"search" json:"search" mod:"trim"`
	PendingPublish bool   `query:"pending_publish" json:"pending_publish"`
	Cleared        *bool  `query:"cleared" json:"cleared"`
	Limit          int    `query:"limit" json:"limit" default:"100" validate:"min=1,max=1000"`
	Offset         int    `query:"offset" json:"offset" validate:"min=0"`
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListReleasesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListOptions{
		PendingPublish: params.PendingPublish,
		Cleared:        params.Cleared,
		Limit:          &params.Limit,
		Offset:         &params.Offset,
	}
	if params.Status != "" {
		opts.Status = &params.Status
	}
	if params.Source != "" {
		opts.Source = &params.Source
	}
	if params.Search != "" {
		opts.Search = &params.Search
	}

	rows, err := h.service.List(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Releases []*Release `json:"releases"`
	}{rows}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")

	release, err := h.service.Retrieve(ctx, RetrieveOptions{Key: &key})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, release))
}

func (h *handler) stats(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := h.service.Stats(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Stats []SourceStat `json:"stats"`
	}{stats}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

// PrependArtistPayload toggles whether the artist name is prepended to the
// title when the release is published.
type PrependArtistPayload struct {
	PrependArtist *bool `json:"prepend_artist" validate:"required"`
}

func (h *handler) prependArtist(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")

	params := PrependArtistPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	if _, err := h.service.Retrieve(ctx, RetrieveOptions{Key: &key}); err != nil {
		return errors.WithStack(err)
	}
	if err := h.service.MarkPrependArtist(ctx, key, *params.PrependArtist); err != nil {
		return errors.WithStack(err)
	}

	release, err := h.service.Retrieve(ctx, RetrieveOptions{Key: &key})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, release))
}

// asset streams a delivery resource file, sniffing its content type.
func (h *handler) asset(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")
	ref := c.Param("ref")

	release, err := h.service.Retrieve(ctx, RetrieveOptions{Key: &key})
	if err != nil {
		return errors.WithStack(err)
	}

	asset, err := h.service.ResolveAsset(ctx, release.Source, key, ref)
	if err != nil {
		return errors.WithStack(err)
	}

	bucket, objectKey, err := asset.Location()
	if err != nil {
		return errors.WithStack(err)
	}

	body, err := h.store.Get(ctx, bucket, objectKey)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.Blob(http.StatusOK, mimetype.Detect(body).String(), body))
}
