package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"time"

	"github.com/pcreech/wampsub/internal/session"
	"github.com/spf13/cobra"
)

func subscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <topic> [topic...]",
		Short: "Subscribe to topics and print events as JSON lines",
		Long: `Join a realm as a subscriber, subscribe to the given topics, and print
each delivered event to stdout as one JSON line. Runs until interrupted
or the router closes the session.

Example:
  wampsub subscribe --url wss://router.example.com/ws --realm com.myapp com.myapp.orders`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSubscribe,
	}

	cmd.Flags().String("url", "", "router WebSocket URL (or WAMPSUB_URL)")
	cmd.Flags().String("realm", "", "realm to join (or WAMPSUB_REALM)")
	cmd.Flags().String("agent", "", "agent identifier sent in the handshake")
	cmd.Flags().String("authid", "", "authentication id, passed through opaquely (or WAMPSUB_AUTHID)")
	cmd.Flags().String("authrole", "", "authentication role, passed through opaquely")
	cmd.Flags().StringSlice("authmethods", nil, "authentication methods to advertise")
	cmd.Flags().Duration("dial-timeout", 30*time.Second, "timeout for the WebSocket dial")
	return cmd
}

// eventLine is one delivered event as printed to stdout.
type eventLine struct {
	Topic   string         `json:"topic"`
	Details map[string]any `json:"details"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	url, err := resolveURL(cmd)
	if err != nil {
		return err
	}
	realm, err := resolveRealm(cmd)
	if err != nil {
		return err
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	logger := newLogger(logLevel)

	agent, _ := cmd.Flags().GetString("agent")
	authID, _ := cmd.Flags().GetString("authid")
	if authID == "" {
		authID = os.Getenv("WAMPSUB_AUTHID")
	}
	authRole, _ := cmd.Flags().GetString("authrole")
	authMethods, _ := cmd.Flags().GetStringSlice("authmethods")
	dialTimeout, _ := cmd.Flags().GetDuration("dial-timeout")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := session.Config{
		URL:         url,
		Realm:       realm,
		Agent:       agent,
		AuthID:      authID,
		AuthRole:    authRole,
		AuthMethods: authMethods,
		DialTimeout: dialTimeout,
		Logger:      logger,
		OnError: func(uri string) {
			logger.Warn("session error", "error", uri)
		},
	}
	if cfg.Metrics, err = resolveMetrics(ctx, cmd, logger); err != nil {
		return err
	}

	s, err := session.Join(ctx, cfg)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, topic := range args {
		err := s.Subscribe(ctx, topic, nil, func(details map[string]any, eventArgs []any, kwargs map[string]any) {
			line := eventLine{Topic: topic, Details: details, Args: eventArgs, Kwargs: kwargs}
			if err := enc.Encode(line); err != nil {
				logger.Warn("write event", "error", err)
			}
		})
		if err != nil {
			_ = s.Leave(ctx)
			return err
		}
	}

	select {
	case <-ctx.Done():
		// Best-effort goodbye on interrupt; the signal context is already
		// cancelled, so give the farewell its own deadline.
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Leave(leaveCtx)
		<-s.Done()
		return nil
	case <-s.Done():
		return nil
	}
}
