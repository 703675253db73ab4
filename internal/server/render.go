package server

import (
	"net/http"

	"github.com/configwatch/configd/pkg/configrender"
	"github.com/configwatch/configd/pkg/model"
)

// writeRenderedConfigFile renders items in format and writes the result,
// falling back to a 500 if marshaling unexpectedly fails.
func writeRenderedConfigFile(w http.ResponseWriter, format string, items *model.OrderedMap) error {
	contentType, body, err := configrender.Render(format, items)
	if err != nil {
		http.Error(w, "failed to render configfile", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", contentType)
	_, err = w.Write(body)
	return err
}
