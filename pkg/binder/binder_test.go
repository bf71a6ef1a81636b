package binder

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type params struct {
	Status string `json:"status" query:"status" mod:"trim" validate:"omitempty,oneof=Blocked Published"`
	Limit  int    `json:"limit" query:"limit" default:"100" validate:"min=1"`
	Omit   string `json:"-"`
}

var (
	goodJSON          = `{"status":" Published "}`
	unknownFieldJSON  = `{"status":"Published","foo":"bar"}`
	typeErrJSON       = `{"status":123}`
	validationErrJSON = `{"status":"Sideways"}`
)

func TestBind(t *testing.T) {
	t.Parallel()
	b, err := New()
	require.NoError(t, err)
	require.NotNil(t, b)

	t.Run("only allows json and form payloads", func(tt *testing.T) {
		c := newContext(goodJSON, echo.MIMEApplicationXML)
		p := params{}
		err := b.Bind(&p, c)
		assert.Contains(tt, err.Error(), "Unsupported Media Type")
	})

	t.Run("disallows unknown fields", func(tt *testing.T) {
		c := newContext(unknownFieldJSON, echo.MIMEApplicationJSON)
		p := params{}
		err := b.Bind(&p, c)
		assert.Contains(tt, err.Error(), "Unknown parameter: foo")
	})

	t.Run("returns a good message for type errors", func(tt *testing.T) {
		c := newContext(typeErrJSON, echo.MIMEApplicationJSON)
		p := params{}
		err := b.Bind(&p, c)
		assert.Contains(tt, err.Error(), `"status" should be of type string`)
	})

	t.Run("applies mod tags and defaults", func(tt *testing.T) {
		c := newContext(goodJSON, echo.MIMEApplicationJSON)
		p := params{}
		err := b.Bind(&p, c)
		require.NoError(tt, err)
		assert.Equal(tt, "Published", p.Status)
		assert.Equal(tt, 100, p.Limit)
	})

	t.Run("validates params", func(tt *testing.T) {
		c := newContext(validationErrJSON, echo.MIMEApplicationJSON)
		p := params{}
		err := b.Bind(&p, c)
		assert.Contains(tt, err.Error(), `"status" must be one of the following`)
	})

	t.Run("binds query params on GET", func(tt *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(echo.GET, "/?status=Blocked", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		p := params{}
		err := b.Bind(&p, c)
		require.NoError(tt, err)
		assert.Equal(tt, "Blocked", p.Status)
	})

	t.Run("rejects unknown query params", func(tt *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(echo.GET, "/?nope=1", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		p := params{}
		err := b.Bind(&p, c)
		require.Error(tt, err)
		assert.Contains(tt, err.Error(), "Unknown parameter: nope")
	})
}

func newContext(payload, mime string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(echo.POST, "/", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, mime)
	rr := httptest.NewRecorder()
	return e.NewContext(req, rr)
}
