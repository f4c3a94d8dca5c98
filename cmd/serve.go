package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/auth"
	"github.com/theapemachine/a2a-core/pkg/knowledge"
	"github.com/theapemachine/a2a-core/pkg/push"
	"github.com/theapemachine/a2a-core/pkg/service"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
	"github.com/theapemachine/a2a-core/pkg/stores"
	"github.com/theapemachine/a2a-core/pkg/stores/s3"
	"github.com/theapemachine/a2a-core/pkg/tasks"
)

var (
	portFlag  int
	hostFlag  string
	storeFlag string
	agentFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve an A2A agent",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(
				cmd.Context(), syscall.SIGINT, syscall.SIGTERM,
			)
			defer stop()

			card := a2a.NewAgentCardFromConfig(agentFlag)

			srv, err := buildServer(ctx, card)
			if err != nil {
				return err
			}

			errChan := make(chan error, 1)

			go func() {
				errChan <- srv.Start()
			}()

			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 10*time.Second,
			)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 3210, "Port to serve on")
	serveCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")
	serveCmd.Flags().StringVarP(&storeFlag, "store", "s", "", "Task store driver: memory, file or s3 (default from config)")
	serveCmd.Flags().StringVarP(&agentFlag, "agent", "a", "default", "Agent card key in the config")
}

/*
buildServer assembles the full service stack from the config: the task
store behind the manager, the knowledge store and push notifier when
the card declares those capabilities, and the authorizer guarding the
RPC endpoint.
*/
func buildServer(ctx context.Context, card *a2a.AgentCard) (*service.Server, error) {
	store, err := buildStore(ctx)
	if err != nil {
		return nil, err
	}

	managerOptions := []tasks.ManagerOption{
		tasks.WithStore(store),
		tasks.WithSessions(stores.NewInMemorySessionStore()),
		tasks.WithHandler(echoHandler),
	}

	if card.Capabilities.Streaming {
		managerOptions = append(managerOptions, tasks.WithHub(sse.NewHub()))
	}

	if card.Capabilities.PushNotifications {
		managerOptions = append(managerOptions, tasks.WithNotifier(push.NewService(store)))
	}

	manager, err := tasks.NewManager(card, managerOptions...)
	if err != nil {
		return nil, err
	}

	serverOptions := []service.ServerOption{
		service.WithManager(manager),
		service.WithAddr(fmt.Sprintf("%s:%d", hostFlag, portFlag)),
	}

	if card.Capabilities.KnowledgeGraph {
		graph, rpcErr := knowledge.NewStore()
		if rpcErr != nil {
			return nil, rpcErr
		}

		serverOptions = append(serverOptions, service.WithKnowledge(graph))
	}

	if authorizer := auth.FromConfig(nil); authorizer != nil {
		serverOptions = append(serverOptions,
			service.WithAuth(authorizer, auth.NewRateLimiterFromConfig()))
	}

	return service.NewServer(card, serverOptions...)
}

// buildStore picks the task store driver from the --store flag, falling
// back to the store.driver config key and then to memory.
func buildStore(ctx context.Context) (stores.TaskStore, error) {
	driver := storeFlag

	if driver == "" {
		driver = viper.GetString("store.driver")
	}

	switch strings.ToLower(driver) {
	case "", "memory":
		return stores.NewInMemoryTaskStore(), nil
	case "file":
		dir := viper.GetString("store.file.dir")
		if dir == "" {
			dir = "tasks"
		}

		return stores.NewFileTaskStore(dir)
	case "s3":
		conn, err := s3.NewConn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to s3: %w", err)
		}

		return s3.NewStore(conn), nil
	}

	return nil, fmt.Errorf("unknown store driver %q", driver)
}

/*
echoHandler is the agent logic serve runs when no host application has
registered its own: it repeats the user's message back as an artifact.
It exists so a freshly built binary can exercise the whole protocol
surface without any further setup.
*/
func echoHandler(
	ctx context.Context, task tasks.TaskContext, yield chan<- tasks.YieldUpdate,
) error {
	text := ""

	for _, part := range task.Message.Parts {
		if part.Type == a2a.PartTypeText {
			text = part.Text
			break
		}
	}

	select {
	case yield <- tasks.StatusUpdate{
		State:   a2a.TaskStateWorking,
		Message: a2a.NewTextMessage(a2a.RoleAgent, "echoing"),
	}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case yield <- tasks.ArtifactUpdate{
		Artifact: a2a.NewTextArtifact("echo", text),
	}:
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Debug("echoed message", "task_id", task.Task.ID, "chars", len(text))

	select {
	case yield <- tasks.StatusUpdate{State: a2a.TaskStateCompleted}:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

var longServe = `
Serve an A2A agent over JSON-RPC with streaming, push notifications and
a knowledge graph, as declared by the agent card in the config.

Examples:
  # Serve the default agent on port 8080
  a2a-core serve --port 8080

  # Serve with file-backed task persistence
  a2a-core serve --store file

  # Serve a different card from the config
  a2a-core serve --agent research
`
