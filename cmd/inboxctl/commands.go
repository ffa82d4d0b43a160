package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"support-inbox-ai/internal/app"
	"support-inbox-ai/internal/bus"
	"support-inbox-ai/internal/domain"
)

type appBuilder func(ctx context.Context) (*app.App, error)

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type conversationView struct {
	ConversationID string   `json:"conversation_id"`
	IssueCategory  *string  `json:"issue_category"`
	Sentiment      *string  `json:"sentiment"`
	SentimentScore *float64 `json:"sentiment_score"`
	Priority       *string  `json:"priority"`
	Summary        *string  `json:"summary"`
	AnalyzedAt     *string  `json:"analyzed_at"`
}

func newRootCmd(build appBuilder) *cobra.Command {
	root := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Operate the support inbox analysis engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// withApp builds the services for one command and closes them afterwards.
	withApp := func(run func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, args)
		}
	}

	var kindFlag string
	analyzeCmd := &cobra.Command{
		Use:   "analyze <conversation-id>",
		Short: "Run one analysis kind for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			kind, err := domain.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			env, err := a.Analysis.Analyze(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env)
		}),
	}
	analyzeCmd.Flags().StringVarP(&kindFlag, "type", "t", string(domain.KindSummary), "analysis kind (sentiment|summary|issue|reply|priority)")
	root.AddCommand(analyzeCmd)

	root.AddCommand(&cobra.Command{
		Use:   "inbox <conversation-id>",
		Short: "Run the combined issue, sentiment and priority analysis",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			env, err := a.Analysis.AnalyzeInbox(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env)
		}),
	})

	var (
		roleFlag    string
		prewarmFlag bool
	)
	invalidateCmd := &cobra.Command{
		Use:   "invalidate <conversation-id>",
		Short: "Clear cached analyses as if a message from --role arrived",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			inv, err := a.NewInvalidator(prewarmFlag)
			if err != nil {
				return err
			}
			evt := bus.MessageCreated{
				Type:           bus.TypeMessageCreated,
				ConversationID: args[0],
				SenderRole:     domain.SenderRole(strings.ToLower(roleFlag)),
				CreatedAt:      time.Now().Unix(),
			}
			if err := inv.HandleMessageCreated(cmd.Context(), evt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", args[0])
			return nil
		}),
	}
	invalidateCmd.Flags().StringVar(&roleFlag, "role", string(domain.SenderCustomer), "sender role of the simulated message (customer|agent)")
	invalidateCmd.Flags().BoolVar(&prewarmFlag, "prewarm", false, "re-run the inbox analysis after a customer message")
	root.AddCommand(invalidateCmd)

	root.AddCommand(&cobra.Command{
		Use:   "consume",
		Short: "Invalidate caches from the Kafka message-created topic until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			inv, err := a.NewInvalidator(a.Config.Analysis.PrewarmInbox)
			if err != nil {
				return err
			}
			consumer, err := a.NewConsumer()
			if err != nil {
				return err
			}
			a.Logger.Info("consuming message events", "topic", a.Config.Kafka.Topic, "group_id", a.Config.Kafka.GroupID)
			return consumer.Run(cmd.Context(), inv.HandleMessageCreated)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the persisted analysis fields and summary of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			fields, err := a.Store.GetConversationFields(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			insight, ok, err := a.Store.GetInsight(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := conversationView{
				ConversationID: args[0],
				IssueCategory:  fields.IssueCategory,
				Sentiment:      fields.Sentiment,
				SentimentScore: fields.SentimentScore,
				Priority:       fields.Priority,
			}
			if ok {
				analyzedAt := insight.AnalyzedAt.UTC().Format(time.RFC3339)
				view.Summary = &insight.Summary
				view.AnalyzedAt = &analyzedAt
			}
			return printJSON(cmd.OutOrStdout(), view)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables when the postgres store is configured",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			s, ok := a.Store.(schemaEnsurer)
			if !ok {
				return errors.New("migrate: the configured store has no schema to create")
			}
			if err := s.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		}),
	})

	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
