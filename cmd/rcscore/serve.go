package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/arzzra/rcs_core/pkg/core"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/emiago/sipgo/sip"
	"github.com/spf13/cobra"
)

var serveAutoAccept bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Register and handle incoming requests until interrupted",
	Long: `Serve registers, answers OPTIONS and MESSAGE and prints session
events. Incoming sessions are declined unless --accept is given; accepted
sessions answer with the SDP offer of the INVITE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		c, err := startCore(ctx, true,
			core.WithIncomingHandler(&consoleHandler{out: out, accept: serveAutoAccept}),
			core.WithMessageHandler(func(req *sip.Request) int {
				fmt.Fprintf(out, "MESSAGE from %s: %s\n", req.From().Address.String(), req.Body())
				return 200
			}))
		if err != nil {
			return err
		}
		unsubscribe := c.Observers().Subscribe(&consoleListener{out: out})
		defer unsubscribe()

		fmt.Fprintln(out, "serving, press Ctrl+C to stop")
		<-ctx.Done()
		return stopCore(c)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveAutoAccept, "accept", false,
		"accept incoming sessions")
}

// consoleHandler отвечает на входящие сессии без участия пользователя
type consoleHandler struct {
	out    io.Writer
	accept bool
}

func (h *consoleHandler) SessionOptions(invite *sip.Request) session.Options {
	return session.Options{LocalContent: string(invite.Body())}
}

func (h *consoleHandler) IncomingSession(s *session.Session) {
	fmt.Fprintf(h.out, "incoming session %s from %s\n", s.ID(), s.Path().RemoteParty())
	if h.accept {
		_ = s.Accept()
		return
	}
	_ = s.Reject(session.InvitationRejectedDecline)
}

// consoleListener печатает события сессий
type consoleListener struct {
	session.NopListener
	out io.Writer
}

func (l *consoleListener) OnSessionStarted(id string) {
	fmt.Fprintf(l.out, "session %s started\n", id)
}

func (l *consoleListener) OnSessionAborted(id string, reason session.ReasonCode) {
	fmt.Fprintf(l.out, "session %s aborted: %s\n", id, reason)
}

func (l *consoleListener) OnSessionTerminatedByRemote(id string) {
	fmt.Fprintf(l.out, "session %s terminated by remote\n", id)
}

func (l *consoleListener) OnStateChanged(e session.StateChanged) {
	fmt.Fprintf(l.out, "session %s: %s (%s)\n", e.SessionID, e.State, e.Reason)
}
