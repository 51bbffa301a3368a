package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/medchat/internal/agent"
	"github.com/suPer8Hu/medchat/internal/chat"
)

func chatCmd(logLevel *string) *cobra.Command {
	var (
		kindFlag  string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent from the terminal",
		Long: `Open an interactive chat with one of the agents
(clinical, literature, symptom, drug).

Commands: /sessions /new /switch <id> /clear /delete /help /quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := agent.Kind(strings.ToLower(strings.TrimSpace(kindFlag)))
			if !kind.Valid() {
				return fmt.Errorf("unknown agent type %q", kindFlag)
			}
			cfg := loadConfig(*logLevel)

			// Interrupt is left to the prompt loop; see repl.turnCtx.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			logger := slog.Default()
			store, closeStore, err := newStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			emitter, closeEmitter, err := newEmitter(cfg, nil, logger, nil)
			if err != nil {
				return err
			}
			defer closeEmitter()

			ctrl := chat.NewController(store,
				agent.NewHTTPRegistry(cfg.AgentBaseURL, cfg.DispatchTimeout),
				emitter,
				chat.WithDispatchTimeout(cfg.DispatchTimeout),
				chat.WithControllerLogger(logger),
			)
			defer ctrl.Wait()

			r := &repl{ctrl: ctrl, kind: kind, in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
			return r.run(ctx, sessionID)
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "type", "t", string(agent.KindClinical), "Agent type: clinical, literature, symptom or drug")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to resume")
	return cmd
}

type repl struct {
	ctrl *chat.Controller
	kind agent.Kind
	in   io.Reader
	out  io.Writer

	// turnCtx scopes one turn. By default Ctrl-C cancels the turn in flight
	// and the prompt comes back; at the prompt it still ends the process.
	turnCtx func(context.Context) (context.Context, context.CancelFunc)

	active string
}

func interruptibleTurn(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) open(requestedID string) {
	r.active = r.ctrl.Open(r.kind, requestedID)
	sess, _ := r.ctrl.Store().Get(r.active)
	r.printf("== %s (%s) ==\n", chat.Title(r.kind), r.active)
	for _, m := range sess.Messages {
		r.printMessage(m)
	}
}

func (r *repl) printMessage(m chat.Message) {
	who := "you"
	if m.Role == chat.RoleAssistant {
		who = "agent"
		if m.Metadata != nil && m.Metadata.Agent != "" {
			who = m.Metadata.Agent
		}
	}
	r.printf("%s> %s\n", who, m.Content)
	if m.Metadata != nil && m.Metadata.ShowBooking {
		r.printf("   [%d specialist(s) available to book]\n", len(m.Metadata.Specialists))
	}
}

func (r *repl) run(ctx context.Context, requestedID string) error {
	if r.turnCtx == nil {
		r.turnCtx = interruptibleTurn
	}
	r.open(requestedID)

	sc := bufio.NewScanner(r.in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.printf("> ")
		if !sc.Scan() {
			r.printf("\n")
			return sc.Err()
		}
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "/") {
			if quit := r.command(strings.Fields(line)); quit {
				return nil
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		tctx, stop := r.turnCtx(ctx)
		res, err := r.ctrl.SubmitTurn(tctx, r.active, r.kind, line)
		interrupted := tctx.Err() != nil && ctx.Err() == nil
		stop()
		if err != nil {
			if errors.Is(err, chat.ErrSessionNotFound) {
				r.printf("session is gone, opening another\n")
				r.open("")
				continue
			}
			r.printf("error: %v\n", err)
			continue
		}
		r.printMessage(res.Assistant)
		if interrupted {
			r.printf("(canceled)\n")
		}
	}
}

// command runs a slash command and reports whether the loop should end.
func (r *repl) command(fields []string) bool {
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		r.printf("/sessions        list %s sessions\n", r.kind)
		r.printf("/new             start a new session\n")
		r.printf("/switch <id>     switch to another session\n")
		r.printf("/clear           clear the current session\n")
		r.printf("/delete          delete the current session\n")
		r.printf("/quit            leave\n")

	case "/sessions":
		for _, s := range r.ctrl.Store().List() {
			if s.Type != r.kind {
				continue
			}
			marker := " "
			if s.ID == r.active {
				marker = "*"
			}
			r.printf("%s %s  %s  %d message(s)\n", marker, s.ID, s.CreatedAt.Format("2006-01-02 15:04"), len(s.Messages))
		}

	case "/new":
		id := r.ctrl.NewSession(r.kind)
		r.open(id)

	case "/switch":
		if len(fields) < 2 {
			r.printf("usage: /switch <id>\n")
			break
		}
		if !r.ctrl.Store().Exists(fields[1]) {
			r.printf("no such session: %s\n", fields[1])
			break
		}
		r.open(fields[1])

	case "/clear":
		r.ctrl.ClearSession(r.active)
		r.open(r.active)

	case "/delete":
		r.ctrl.DeleteSession(r.active)
		r.printf("deleted %s\n", r.active)
		r.open("")

	default:
		r.printf("unknown command %s, try /help\n", fields[0])
	}
	return false
}
