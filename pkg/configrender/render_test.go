package configrender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/configwatch/configd/pkg/model"
)

func TestRenderFormats(t *testing.T) {
	items := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}})

	t.Run("properties default", func(t *testing.T) {
		ct, body, err := Render("properties", items)
		require.NoError(t, err)
		assert.Equal(t, "text/plain; charset=utf-8", ct)
		assert.Contains(t, string(body), "k1=v1")
	})

	t.Run("json", func(t *testing.T) {
		ct, body, err := Render("json", items)
		require.NoError(t, err)
		assert.Equal(t, "application/json", ct)
		assert.Contains(t, string(body), `"k1":"v1"`)
	})

	t.Run("yaml", func(t *testing.T) {
		ct, body, err := Render("yaml", items)
		require.NoError(t, err)
		assert.Equal(t, "application/yaml; charset=utf-8", ct)
		assert.Contains(t, string(body), "k1: v1")
	})

	t.Run("xml", func(t *testing.T) {
		ct, body, err := Render("xml", items)
		require.NoError(t, err)
		assert.Equal(t, "application/xml; charset=utf-8", ct)
		assert.Contains(t, string(body), `key="k1"`)
	})

	t.Run("txt", func(t *testing.T) {
		txtItems := model.NewOrderedMapFromPairs([]model.Pair{{Key: "content", Value: "raw blob"}})
		ct, body, err := Render("txt", txtItems)
		require.NoError(t, err)
		assert.Equal(t, "text/plain; charset=utf-8", ct)
		assert.Equal(t, "raw blob", string(body))
	})
}
