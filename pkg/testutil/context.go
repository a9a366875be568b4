package testutil

import (
	"context"
	"net/http"

	id "safezone/pkg/domain"
	"safezone/pkg/requestcontext"
)

// ActorContext returns a background context carrying actor, as RequireAuth
// would leave it for an authenticated request.
func ActorContext(actor id.UserID) context.Context {
	return requestcontext.WithUserID(context.Background(), actor)
}

// WithActor attaches actor to an existing request.
func WithActor(req *http.Request, actor id.UserID) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), actor))
}
