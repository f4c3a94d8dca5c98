package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/client"
	"github.com/theapemachine/a2a-core/pkg/utils"
)

var (
	endpointFlag string
	tokenFlag    string
	apiKeyFlag   string
	taskFlag     string
	sessionFlag  string
	historyFlag  int

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Talk to an A2A agent from the terminal",
		Long:  longClient,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	sendCmd = &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message and wait for the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := newAgentClient().SendText(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Println(reply)
			return nil
		},
	}

	streamCmd = &cobra.Command{
		Use:   "stream [message]",
		Short: "Send a message and print events as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(
				cmd.Context(), syscall.SIGINT, syscall.SIGTERM,
			)
			defer stop()

			id := taskFlag
			if id == "" {
				id = uuid.NewString()
			}

			params := a2a.TaskSendParams{
				ID:            id,
				SessionID:     sessionFlag,
				Message:       *a2a.NewTextMessage(a2a.RoleUser, args[0]),
				HistoryLength: utils.Ptr(historyFlag),
			}

			return newAgentClient().StreamTask(ctx, params, printEvent)
		},
	}

	getCmd = &cobra.Command{
		Use:   "get",
		Short: "Fetch a task by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := newAgentClient().GetTask(cmd.Context(), a2a.TaskQueryParams{
				TaskIDParams:  a2a.TaskIDParams{ID: taskFlag},
				HistoryLength: utils.Ptr(historyFlag),
			})
			if err != nil {
				return err
			}

			return printJSON(task)
		},
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a running task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := newAgentClient().CancelTask(
				cmd.Context(), a2a.TaskIDParams{ID: taskFlag},
			)
			if err != nil {
				return err
			}

			fmt.Printf("task %s is now %s\n", task.ID, task.Status.State)
			return nil
		},
	}

	cardCmd = &cobra.Command{
		Use:   "card",
		Short: "Fetch the agent's discovery card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := newAgentClient().AgentCard(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(card)
		},
	}
)

// newAgentClient builds a client for the configured endpoint with
// whatever credentials the flags carry.
func newAgentClient() *client.AgentClient {
	options := []client.Option{}

	if tokenFlag != "" {
		options = append(options, client.WithHeader("Authorization", "Bearer "+tokenFlag))
	}

	if apiKeyFlag != "" {
		options = append(options, client.WithHeader("X-API-Key", apiKeyFlag))
	}

	return client.NewAgentClient(endpointFlag, options...)
}

// printEvent renders one stream event: artifact text as it arrives,
// status transitions on their own line.
func printEvent(event *client.TaskEvent) {
	switch {
	case event.Artifact != nil:
		for _, part := range event.Artifact.Artifact.Parts {
			if part.Type == a2a.PartTypeText {
				fmt.Print(part.Text)
			}
		}
	case event.Status != nil:
		fmt.Printf("\n[%s]", event.Status.Status.State)

		if msg := event.Status.Status.Message; msg != nil {
			for _, part := range msg.Parts {
				if part.Type == a2a.PartTypeText {
					fmt.Printf(" %s", part.Text)
				}
			}
		}

		fmt.Println()
	}
}

func printJSON(value any) error {
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(sendCmd)
	clientCmd.AddCommand(streamCmd)
	clientCmd.AddCommand(getCmd)
	clientCmd.AddCommand(cancelCmd)
	clientCmd.AddCommand(cardCmd)

	clientCmd.PersistentFlags().StringVarP(&endpointFlag, "endpoint", "e", "http://localhost:3210", "Agent endpoint URL")
	clientCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token for the Authorization header")
	clientCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Value for the X-API-Key header")

	streamCmd.Flags().StringVarP(&taskFlag, "task", "t", "", "Continue an existing task instead of starting a new one")
	streamCmd.Flags().StringVar(&sessionFlag, "session", "", "Session id grouping related tasks")
	streamCmd.Flags().IntVar(&historyFlag, "history", 10, "Number of history messages to include")

	getCmd.Flags().StringVarP(&taskFlag, "task", "t", "", "Task id to fetch")
	getCmd.Flags().IntVar(&historyFlag, "history", 10, "Number of history messages to include")
	getCmd.MarkFlagRequired("task")

	cancelCmd.Flags().StringVarP(&taskFlag, "task", "t", "", "Task id to cancel")
	cancelCmd.MarkFlagRequired("task")
}

var longClient = `
Run client operations against an A2A agent: send messages, stream
events, inspect and cancel tasks, and fetch the discovery card.

Examples:
  # Ask the agent a question and wait for the answer
  a2a-core client send "summarize the build logs" -e http://localhost:3210

  # Watch a task stream in real time
  a2a-core client stream "generate a report"

  # Inspect a task later
  a2a-core client get --task 3f2a... --history 20
`
