package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ashureev/caps-tutor/internal/app"
	"github.com/ashureev/caps-tutor/internal/config"
	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/identity"
)

type rootOptions struct {
	provider string
	model    string
	backend  string
	verbose  bool
}

type chatOptions struct {
	user       string
	name       string
	showMeta   bool
	transcript bool
}

type classifyOptions struct {
	subject string
	grade   string
	agent   string
	expect  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "tutorctl",
		Short:        "Chat with the CAPS tutor from a terminal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.provider, "provider", "", "LLM provider override (openai, anthropic, ollama, none)")
	root.PersistentFlags().StringVar(&opts.model, "model", "", "LLM model override")
	root.PersistentFlags().StringVar(&opts.backend, "backend", config.BackendMemory, "session backend (memory, sqlite, redis)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(newChatCmd(opts), newClassifyCmd(opts))
	return root
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive tutoring session",
		Long: `Reads one message per line from stdin and prints the tutor's reply.
Type /session to print the stored session, /quit to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := identity.NormalizeUserID(opts.user)
			if err != nil {
				return err
			}
			tutor, err := buildApp(cmd, root, opts.transcript, "cli")
			if err != nil {
				return err
			}
			defer tutor.Close()
			return runChat(cmd.Context(), tutor, userID, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "27820000000", "learner phone number")
	cmd.Flags().StringVar(&opts.name, "name", "", "learner display name")
	cmd.Flags().BoolVar(&opts.showMeta, "meta", false, "print reply metadata")
	cmd.Flags().BoolVar(&opts.transcript, "transcript", false, "write transcripts to TRANSCRIPT_DIR")
	return cmd
}

func newClassifyCmd(root *rootOptions) *cobra.Command {
	opts := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify [message]",
		Short: "Classify one message and print the intent as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tutor, err := buildApp(cmd, root, false, "cli")
			if err != nil {
				return err
			}
			defer tutor.Close()
			return runClassify(cmd.Context(), tutor, strings.Join(args, " "), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.subject, "subject", "", "subject already known for the learner")
	cmd.Flags().StringVar(&opts.grade, "grade", "", "grade already known for the learner")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "agent that handled the previous turn")
	cmd.Flags().StringVar(&opts.expect, "expect", "", "expectation left by the previous turn")
	return cmd
}

func buildApp(cmd *cobra.Command, root *rootOptions, transcripts bool, channel string) (*app.App, error) {
	cfg := config.FromEnv()
	if root.provider != "" {
		cfg.LLM.Provider = strings.ToLower(root.provider)
	}
	if root.model != "" {
		cfg.LLM.Model = root.model
	}
	cfg.Session.Backend = strings.ToLower(root.backend)
	cfg.Transcript.Enabled = transcripts
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelWarn
	if root.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return app.New(cmd.Context(), cfg, logger, app.WithChannel(channel))
}

func runChat(ctx context.Context, tutor *app.App, userID string, opts *chatOptions, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Chatting as %s. /session shows state, /quit leaves.\n", identity.E164(userID))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/session":
			sess, err := tutor.Store.Get(ctx, userID)
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			if err := printJSON(out, sess); err != nil {
				return err
			}
			continue
		}

		reply := tutor.Brain.HandleTurn(ctx, domain.InboundTurn{
			UserID:   userID,
			UserName: opts.name,
			Message:  line,
		})
		fmt.Fprintf(out, "%s\n", reply.Response)
		if opts.showMeta {
			fmt.Fprintf(out, "  [%s]\n", formatMeta(reply))
		}
	}
}

func runClassify(ctx context.Context, tutor *app.App, message string, opts *classifyOptions, out io.Writer) error {
	sess := domain.NewSession("cli", time.Now())
	sess.Subject = opts.subject
	sess.Grade = opts.grade
	sess.CurrentAgent = opts.agent
	sess.LastExpectation = opts.expect

	return printJSON(out, tutor.Classifier.Classify(ctx, message, sess))
}

func formatMeta(reply domain.OutboundTurn) string {
	keys := lo.Without(lo.Keys(reply.Metadata), "turn_id")
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, "expect="+reply.Expectation)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, reply.Metadata[k]))
	}
	return strings.Join(parts, " ")
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
