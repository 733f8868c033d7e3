// Command t4ctl drives a running relay from the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aerokeylabs/t4chat/internal/domain"
	"github.com/aerokeylabs/t4chat/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "t4ctl",
	Short:         "Send, watch and cancel streamed replies on a t4chat relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	viper.SetEnvPrefix("T4CTL")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "relay base URL")
	if err := viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newSendCmd(), newCancelCmd(), newWatchCmd(), newModelsCmd(), newSeedCmd())
}

func client() *Client {
	return NewClient(viper.GetString("server"))
}

func newSendCmd() *cobra.Command {
	var (
		req    SendRequest
		effort string
		search bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream a reply into a pending message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if effort != "" || search {
				req.ModelParams = &domain.ModelParams{ReasoningEffort: domain.ReasoningEffort(effort), IncludeSearch: search}
			}
			return client().Send(cmd.Context(), &req, func(ev domain.ChatEvent) {
				printEvent(cmd.OutOrStdout(), ev)
			})
		},
	}
	cmd.Flags().StringVar(&req.ThreadID, "thread", "", "thread id")
	cmd.Flags().StringVar(&req.ResponseMessageID, "message", "", "pending assistant message id")
	cmd.Flags().StringVar(&req.Model, "model", "openai/gpt-4o-mini", "model id")
	cmd.Flags().StringVar(&req.CustomKey, "key", "", "custom provider key")
	cmd.Flags().StringVar(&effort, "effort", "", "reasoning effort (low, medium, high)")
	cmd.Flags().BoolVar(&search, "search", false, "enable web search")
	_ = cmd.MarkFlagRequired("thread")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel THREAD_ID",
		Short: "Stop the relay streaming into a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no active relay for thread")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch THREAD_ID",
		Short: "Follow a thread's events over the websocket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Watch(cmd.Context(), args[0], func(ev domain.ChatEvent) {
				printEvent(cmd.OutOrStdout(), ev)
			})
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List provider models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := client().Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			}
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "seed PROMPT",
		Short: "Create a thread with a pending reply in a sqlite store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewSQLiteStore(dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			threadID, replyID, err := seed(cmd.Context(), db, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread:  %s\nmessage: %s\n", threadID, replyID)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "db", "file:t4chat.db?cache=shared&mode=rwc", "sqlite DSN shared with the relay")
	return cmd
}

// seed creates an untitled thread with prompt as its first user turn and a
// pending assistant message to stream into.
func seed(ctx context.Context, db *store.SQLiteStore, prompt string) (string, string, error) {
	threadID := uuid.NewString()
	if err := db.CreateThread(ctx, &domain.Thread{ID: threadID}); err != nil {
		return "", "", err
	}
	user := &domain.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		Role:     domain.RoleUser,
		Status:   domain.MessageStatusComplete,
		Parts:    []domain.MessagePart{{Type: domain.PartTypeText, Text: prompt}},
	}
	if err := db.CreateMessage(ctx, user); err != nil {
		return "", "", err
	}
	reply := &domain.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		Role:     domain.RoleAssistant,
		Status:   domain.MessageStatusPending,
	}
	if err := db.CreateMessage(ctx, reply); err != nil {
		return "", "", err
	}
	return threadID, reply.ID, nil
}

func printEvent(w io.Writer, ev domain.ChatEvent) {
	switch ev.Kind {
	case domain.EventText:
		fmt.Fprint(w, ev.Text)
	case domain.EventReasoning:
		fmt.Fprintf(w, "\x1b[2m%s\x1b[0m", ev.Text)
	case domain.EventAnnotations:
		for _, a := range ev.Annotations {
			fmt.Fprintf(w, "\n[source] %s <%s>", a.Title, a.URL)
		}
	case domain.EventRefusal:
		fmt.Fprintf(w, "\n[refused] %s\n", ev.Text)
	case domain.EventError:
		fmt.Fprintf(w, "\n[error] %s\n", ev.Text)
	case domain.EventCancelled:
		fmt.Fprintln(w, "\n[cancelled]")
	case domain.EventUnauthorized:
		fmt.Fprintln(w, "\n[unauthorized] the custom key was rejected")
	case domain.EventEnd:
		fmt.Fprintln(w)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
