//go:build !swagger

package httpapi

import (
    "github.com/go-chi/chi/v5"
)

// MountSwagger does nothing in default builds. Build with -tags=swagger to
// serve the API docs under /swagger/.
func MountSwagger(r chi.Router) {}
