package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/metrics"
	"github.com/theapemachine/a2a-core/pkg/stores"
)

/*
Service delivers task events to registered webhooks.  The engine hands
an event off and moves on: each delivery runs its retry schedule on its
own goroutine, detached from the request that produced the event, and
failures surface only in the log and the delivery metrics.  Webhook
bodies carry the bare event payload, the same object a stream frame
wraps in its response envelope.
*/
type Service struct {
	store  stores.TaskStore
	client *http.Client
	retry  *errors.RetryConfig
}

type ServiceOption func(*Service)

// WithClient replaces the webhook HTTP client.
func WithClient(client *http.Client) ServiceOption {
	return func(service *Service) {
		service.client = client
	}
}

// WithRetryConfig overrides the delivery schedule.
func WithRetryConfig(config *errors.RetryConfig) ServiceOption {
	return func(service *Service) {
		service.retry = config
	}
}

func NewService(store stores.TaskStore, options ...ServiceOption) *Service {
	service := &Service{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: &errors.RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  250 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		},
	}

	for _, option := range options {
		option(service)
	}

	return service
}

/*
Notify posts one event to the task's webhook, if one is registered.
It returns immediately; lookup, delivery and retries all happen in the
background so a stalled webhook never slows the engine.
*/
func (service *Service) Notify(ctx context.Context, taskID string, event any) {
	payload, err := json.Marshal(event)

	if err != nil {
		log.Error("failed to serialize push payload", "task_id", taskID, "error", err)
		return
	}

	detached := context.WithoutCancel(ctx)

	go func() {
		config, rpcErr := service.store.LoadPushConfig(detached, taskID)

		if rpcErr != nil || config == nil || config.URL == "" {
			return
		}

		service.deliver(detached, taskID, config, payload)
	}()
}

// deliver runs one event through the retry schedule and records the
// outcome.
func (service *Service) deliver(
	ctx context.Context,
	taskID string,
	config *a2a.PushNotificationConfig,
	payload []byte,
) {
	attempts := 0

	err := errors.RetryWithBackoff(service.retry, func() error {
		attempts++
		return service.post(ctx, taskID, config, payload)
	})

	if err != nil {
		metrics.RecordPushDelivery(false, attempts)
		log.Error("push delivery failed",
			"task_id", taskID,
			"url", config.URL,
			"attempts", attempts,
			"error", err)
		return
	}

	metrics.RecordPushDelivery(true, attempts)
	log.Debug("push delivered",
		"task_id", taskID,
		"url", config.URL,
		"attempts", attempts)
}

func (service *Service) post(
	ctx context.Context,
	taskID string,
	config *a2a.PushNotificationConfig,
	payload []byte,
) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, config.URL, bytes.NewReader(payload),
	)

	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if err := authorize(req, taskID, config); err != nil {
		return err
	}

	resp, err := service.client.Do(req)

	if err != nil {
		return err
	}

	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

/*
authorize builds the Authorization header.  A config asking for the
jwt scheme gets a short-lived HS256 token signed with its credentials;
the bearer scheme and the per-task token both ride as plain bearers.
*/
func authorize(req *http.Request, taskID string, config *a2a.PushNotificationConfig) error {
	auth := config.Authentication

	if auth != nil && auth.Credentials != nil {
		for _, scheme := range auth.Schemes {
			switch strings.ToLower(scheme) {
			case "jwt":
				signed, err := signToken(*auth.Credentials, taskID)

				if err != nil {
					return fmt.Errorf("failed to sign webhook token: %w", err)
				}

				req.Header.Set("Authorization", "Bearer "+signed)
				return nil
			case "bearer":
				req.Header.Set("Authorization", "Bearer "+*auth.Credentials)
				return nil
			}
		}
	}

	if config.Token != nil && *config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+*config.Token)
	}

	return nil
}

func signToken(secret, taskID string) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat":     now.Unix(),
		"exp":     now.Add(5 * time.Minute).Unix(),
		"task_id": taskID,
	})

	return token.SignedString([]byte(secret))
}
