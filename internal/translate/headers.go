package translate

import (
	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/source"
)

// HeaderProperties copies every source header to one property, keeping
// order and duplicates.
func HeaderProperties(headers []source.HeaderField) []email.HeaderProperty {
	props := make([]email.HeaderProperty, 0, len(headers))
	for _, h := range headers {
		props = append(props, email.HeaderProperty{Name: h.Name, Value: h.Value})
	}
	return props
}
