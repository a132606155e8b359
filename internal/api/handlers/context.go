package handlers

import (
	"context"
	"time"
)

// Analytics bumps run detached from the request so a slow write never
// delays the edge response.
func contextWithBackground() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
