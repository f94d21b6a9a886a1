// Package command dispatches validated command envelopes from the commands
// stream to their handlers.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
)

// ErrUnknownCommand is returned for envelope types with no handler.
var ErrUnknownCommand = errors.New("unknown command type")

// Handler processes one command payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Router maps command types to handlers. The handler set is fixed at
// construction.
type Router struct {
	handlers map[string]Handler
	log      *logging.Logger
}

// NewRouter builds the router over the full command set. Panics if a command
// type from the catalog has no handler; that is a programming error caught
// at boot, not a runtime condition.
func NewRouter(h *Handlers, log *logging.Logger) *Router {
	r := &Router{
		handlers: map[string]Handler{
			domain.CmdInitSession:       h.InitSession,
			domain.CmdLogout:            h.Logout,
			domain.CmdDisconnectSession: h.DisconnectSession,
			domain.CmdRestartSession:    h.RestartSession,
			domain.CmdSendText:          h.SendText,
			domain.CmdSendImage:         h.sendMedia(domain.MediaImage),
			domain.CmdSendVideo:         h.sendMedia(domain.MediaVideo),
			domain.CmdSendAudio:         h.sendMedia(domain.MediaAudio),
			domain.CmdUpdateSettings:    h.UpdateSettings,
			domain.CmdGetStatus:         h.GetStatus,
		},
		log: log.Sub("router"),
	}
	for _, cmd := range domain.AllCommands() {
		if _, ok := r.handlers[cmd]; !ok {
			panic(fmt.Sprintf("command %s has no handler", cmd))
		}
	}
	return r
}

// Route dispatches an envelope to its handler.
func (r *Router) Route(ctx context.Context, env domain.CommandEnvelope) error {
	handler, ok := r.handlers[env.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, env.Type)
	}
	r.log.Debug().Str("type", env.Type).Str("id", env.ID).Msg("routing command")
	return handler(ctx, env.Payload)
}
