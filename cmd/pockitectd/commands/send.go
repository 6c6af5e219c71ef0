package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pockitect/pockitect/pkg/bus"
)

func newSendCommand() *cobra.Command {
	var (
		data    string
		wait    bool
		idle    time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <command-type>",
		Short: "Submit a command to a running daemon",
		Long: `Submit a command envelope through the admin API.

With --wait the command's status events are streamed until a final event
arrives, no event is seen for --idle, or --timeout elapses.`,
		Example: `  # Scan two regions
  pockitectd send scan_all_regions --data '{"regions":["us-east-1","eu-west-1"]}'

  # Tear down a VPC and everything in it, following progress
  pockitectd send terminate --wait --data '{"project":"demo","resources":[{"id":"vpc-0abc","type":"vpc","region":"us-east-1"}]}'

  # Stop every powerable resource of a project
  pockitectd send power --data '{"action":"stop","project":"demo"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data is not valid JSON")
				}
				raw = json.RawMessage(data)
			}
			envelope := bus.Command{Type: args[0], Data: raw}
			if err := envelope.Validate(); err != nil {
				return err
			}

			var stream *websocket.Conn
			if wait {
				// Subscribe before submitting so no early event is missed.
				envelope.RequestID = uuid.NewString()
				conn, err := dialStatus(envelope.RequestID)
				if err != nil {
					return err
				}
				defer conn.Close()
				stream = conn
			}

			accepted, err := submit(envelope)
			if err != nil {
				return err
			}
			log.Info().Str("type", accepted["type"]).Str("request_id", accepted["request_id"]).Msg("Command accepted")

			if stream == nil {
				return nil
			}
			return follow(stream, idle, timeout)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "command data as JSON")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "stream status events for the command")
	cmd.Flags().DurationVar(&idle, "idle", 15*time.Second, "stop waiting after this long without events")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "stop waiting after this long")

	return cmd
}

func submit(envelope bus.Command) (map[string]string, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(apiAddr, "/")+"/v1/commands", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	out := map[string]string{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("command rejected (%d): %s", resp.StatusCode, out["error"])
	}
	return out, nil
}

func dialStatus(requestID string) (*websocket.Conn, error) {
	u, err := url.Parse(strings.TrimRight(apiAddr, "/") + "/v1/status/stream")
	if err != nil {
		return nil, fmt.Errorf("invalid --api: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"request_id": {requestID}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open status stream: %w", err)
	}
	return conn, nil
}

func follow(conn *websocket.Conn, idle, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	enc := json.NewEncoder(os.Stdout)
	for {
		next := time.Now().Add(idle)
		if next.After(deadline) {
			next = deadline
		}
		_ = conn.SetReadDeadline(next)

		var e bus.Status
		if err := conn.ReadJSON(&e); err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				log.Info().Msg("No more events")
				return nil
			}
			return fmt.Errorf("status stream closed: %w", err)
		}

		if jsonOutput {
			_ = enc.Encode(e)
		} else {
			fmt.Printf("%s  %-26s %-11s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Type, e.Status, summarize(e.Data))
		}
		if final(e) {
			return nil
		}
	}
}

// final reports whether e ends its command's event stream.
func final(e bus.Status) bool {
	switch e.Type {
	case bus.EventTerminateComplete, bus.EventProjectRefreshComplete, bus.EventError:
		return true
	case bus.EventDeploy:
		return e.Status != bus.StatusInProgress
	case bus.EventPower:
		if e.Status == bus.StatusError {
			// Per-resource failures name the resource; the summary does not.
			_, perResource := e.Data["resource"]
			return !perResource
		}
		return e.Status == bus.StatusSuccess || e.Status == bus.StatusPartial
	}
	return false
}

func summarize(data map[string]any) string {
	for _, key := range []string{"message", "error", "reason"} {
		if v, ok := data[key].(string); ok && v != "" {
			return v
		}
	}
	if id, ok := data["resource_id"].(string); ok {
		return id
	}
	if region, ok := data["region"].(string); ok {
		return region
	}
	return ""
}
