package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the counselor in the terminal",
	Long: `Starts an interactive text conversation. Returning users are recognised by name
and pick up with their recent turns; new users are asked for their age and what
brings them here. Say goodbye (or exit) to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.close(closeCtx)
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go func() {
		if err := a.background(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("facial source stopped", zap.Error(err))
		}
	}()

	t := &terminal{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
	sess, err := t.login(ctx, a.sessions)
	if err != nil {
		return err
	}
	defer func() { _ = a.sessions.End(sess.ID) }()

	return t.converse(ctx, sess.Engine)
}

type terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func (t *terminal) ask(prompt string) (string, bool) {
	fmt.Fprint(t.out, prompt)
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}

// login starts a session for a known name, or registers the name after asking for the profile.
func (t *terminal) login(ctx context.Context, sessions *session.Manager) (*session.Session, error) {
	for {
		name, ok := t.ask("Enter your name: ")
		if !ok {
			return nil, io.EOF
		}

		sess, err := sessions.Start(ctx, name)
		if err == nil {
			fmt.Fprintf(t.out, "Welcome back, %s!\n", sess.User.Name)
			return sess, nil
		}
		if errors.Is(err, session.ErrNameRequired) {
			continue
		}
		if !errors.Is(err, store.ErrUserNotFound) {
			return nil, err
		}

		fmt.Fprintf(t.out, "New user registration for %s\n", name)
		age, ok := t.askAge()
		if !ok {
			return nil, io.EOF
		}
		problem, ok := t.ask("What brings you here today? ")
		if !ok {
			return nil, io.EOF
		}
		return sessions.Register(ctx, name, age, problem)
	}
}

func (t *terminal) askAge() (int, bool) {
	for {
		raw, ok := t.ask("Enter your age: ")
		if !ok {
			return 0, false
		}
		age, err := strconv.Atoi(raw)
		if err == nil && age >= 0 && age <= 150 {
			return age, true
		}
		fmt.Fprintln(t.out, "Please enter a number between 0 and 150.")
	}
}

func (t *terminal) converse(ctx context.Context, engine *workflow.Engine) error {
	// An empty first turn asks for the greeting; returning users without one just start talking.
	if reply, err := engine.ProcessTurn(ctx, workflow.Input{Modality: chat.ModalityText}); err == nil {
		t.say(reply)
	}

	for {
		text, ok := t.ask("\nYou: ")
		if !ok {
			return nil
		}
		if text == "" {
			continue
		}
		if lowered := strings.ToLower(text); lowered == "exit" || lowered == "quit" {
			fmt.Fprintln(t.out, "Ending conversation...")
			return nil
		}

		reply, err := engine.ProcessTurn(ctx, workflow.Input{Text: text, Modality: chat.ModalityText})
		if err != nil {
			return err
		}
		t.say(reply)
		if reply.Farewell {
			return nil
		}
	}
}

func (t *terminal) say(reply workflow.Reply) {
	fmt.Fprintf(t.out, "\nAgent: %s\n", reply.Text)
	if reply.Warning != nil {
		fmt.Fprintf(t.out, "(note: %v)\n", reply.Warning)
	}
}
