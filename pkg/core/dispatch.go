package core

import (
	"context"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/sip/builder"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

// handleRequest распределяет входящий запрос. sipgo вызывает обработчик
// в отдельной горутине на каждый запрос.
func (c *Core) handleRequest(req *sip.Request) {
	ctx := c.context()
	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	s, found := c.registry.GetByCallID(callID)

	switch req.Method {
	case sip.INVITE:
		if !found {
			c.handleInvite(ctx, req)
			return
		}
		c.handleInDialogInvite(ctx, s, req)
	case sip.ACK:
		if found {
			s.ReceiveAck(req)
		}
	case sip.BYE:
		if !found {
			c.respond(ctx, req, builder.StatusCallDoesNotExist)
			return
		}
		s.ReceiveBye(ctx, req)
	case sip.CANCEL:
		if !found {
			c.respond(ctx, req, builder.StatusCallDoesNotExist)
			return
		}
		s.ReceiveCancel(ctx, req)
	case sip.UPDATE:
		if !found {
			c.respond(ctx, req, builder.StatusCallDoesNotExist)
			return
		}
		s.ReceiveUpdate(ctx, req)
	case sip.OPTIONS:
		c.handleOptions(ctx, req)
	case sip.MESSAGE:
		c.handleMessage(ctx, req)
	default:
		if found {
			c.respond(ctx, req, builder.StatusMethodNotAllowed)
			return
		}
		c.respond(ctx, req, builder.StatusCallDoesNotExist)
	}
}

// context контекст запущенного ядра, до Start фоновый
func (c *Core) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Core) handleInvite(ctx context.Context, invite *sip.Request) {
	if c.incoming == nil {
		c.respond(ctx, invite, builder.StatusTemporarilyUnavail)
		return
	}

	opts := c.sessionOptions(c.incoming.SessionOptions(invite))
	s, err := session.NewIncoming(c.sessionDeps(), invite, opts)
	if err != nil {
		c.logger.Warn("cannot create incoming session", zap.Error(err))
		c.respond(ctx, invite, builder.StatusInternalServerError)
		return
	}
	c.logger.Info("incoming session", logging.SessionID(s.ID()), logging.CallID(s.Path().CallID()))

	c.incoming.IncomingSession(s)
	if err := s.Receive(ctx); err != nil {
		c.logger.Warn("cannot receive incoming session", logging.SessionID(s.ID()), zap.Error(err))
		_ = s.Abort(ctx, session.CauseSystem)
	}
}

// handleInDialogInvite re-INVITE принимается только внутри диалога
// сессии. Повтор начального INVITE без тега To поглощается.
func (c *Core) handleInDialogInvite(ctx context.Context, s *session.Session, req *sip.Request) {
	switch tag := dialog.ToTag(req); tag {
	case s.Path().LocalTag():
		s.ReceiveReInvite(ctx, req)
	case "":
		c.logger.Debug("initial INVITE retransmission ignored", logging.SessionID(s.ID()), logging.CallID(s.Path().CallID()))
	default:
		c.respond(ctx, req, builder.StatusCallDoesNotExist)
	}
}

func (c *Core) handleOptions(ctx context.Context, req *sip.Request) {
	res, err := c.builder.Ok200Options(req, c.cfg.Registration.FeatureTags, "")
	if err != nil {
		c.logger.Warn("cannot build OPTIONS response", zap.Error(err))
		return
	}
	if err := c.manager.SendResponse(ctx, res); err != nil {
		c.logger.Warn("cannot answer OPTIONS", zap.Error(err))
	}
}

func (c *Core) handleMessage(ctx context.Context, req *sip.Request) {
	code := builder.StatusOK
	if c.onMessage != nil {
		code = c.onMessage(req)
	}
	c.respond(ctx, req, code)
}

func (c *Core) respond(ctx context.Context, req *sip.Request, code int) {
	res, err := c.builder.Response(req, dialog.GenerateTag(), code, "")
	if err != nil {
		c.logger.Warn("cannot build response", logging.StatusCode(code), zap.Error(err))
		return
	}
	if err := c.manager.SendResponse(ctx, res); err != nil {
		c.logger.Warn("cannot send response", logging.StatusCode(code), zap.Error(err))
	}
}
