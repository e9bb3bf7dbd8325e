// Package watch provides a command that prints a project's live change feed.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/agentstation/rddm/cmd/application"
	"github.com/agentstation/rddm/internal/cmd/emoji"
	"github.com/agentstation/rddm/internal/cmd/output"
	"github.com/agentstation/rddm/pkg/envelope"
)

// dialTimeout bounds the WebSocket handshake.
const dialTimeout = 10 * time.Second

// NewCommand creates the watch command. serverURL supplies the default API
// address when --server is not given.
func NewCommand(app application.Application, serverURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Print a project's change envelopes as they happen",
		Long: `Watch connects to a project's WebSocket feed and prints every change
envelope the server fans out. Output follows --format: json prints each wire
frame on its own line, yaml prints one document per envelope, and table
prints a one-line summary.`,
		Example: `  rddm watch p1
  rddm watch p1 --format yaml --count 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			if server == "" {
				server = serverURL()
			}
			count, _ := cmd.Flags().GetInt("count")

			format, err := output.ParseFormat(app.OutputFormat())
			if err != nil {
				return err
			}
			w := &watcher{
				out:    cmd.OutOrStdout(),
				errOut: cmd.ErrOrStderr(),
				format: output.DetectFormat(string(format)),
				count:  count,
			}
			return w.run(cmd.Context(), server, args[0])
		},
	}

	cmd.Flags().String("server", "", "API server URL (default $RDDM_SERVER_URL or http://localhost:3000)")
	cmd.Flags().Int("count", 0, "Exit after this many envelopes (0 runs until interrupted)")

	return cmd
}

type watcher struct {
	out    io.Writer
	errOut io.Writer
	format output.Format
	count  int
}

// FeedURL returns the WebSocket address of a project's feed.
func FeedURL(server, projectID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", server, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/projects/" + url.PathEscape(projectID)
	return u.String(), nil
}

func (w *watcher) run(ctx context.Context, server, projectID string) error {
	feed, err := FeedURL(server, projectID)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, feed, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", feed, err)
	}
	defer func() { _ = conn.Close() }()

	fmt.Fprintf(w.errOut, "%s Watching project %s at %s\n", emoji.Plug, projectID, feed)

	// Unblock ReadMessage when the command is interrupted.
	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	seen := 0
	for w.count == 0 || seen < w.count {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading feed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := envelope.Decode(data)
		if err != nil {
			fmt.Fprintf(w.errOut, "%s %s\n", emoji.Error, strings.TrimSpace(string(data)))
			continue
		}
		if err := w.print(data, env); err != nil {
			return err
		}
		seen++
	}
	return nil
}

// summary is the table rendering of one envelope.
type summary struct {
	Kind      envelope.Kind `json:"kind"`
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Timestamp string        `json:"timestamp"`
}

func summarize(env envelope.Envelope) summary {
	switch e := env.(type) {
	case envelope.ElementUpdate:
		return summary{e.Kind(), e.ID, e.UserID, e.Timestamp}
	case envelope.ElementDelete:
		return summary{e.Kind(), e.ID, e.UserID, e.Timestamp}
	case envelope.RelationshipUpdate:
		return summary{e.Kind(), e.ID, e.UserID, e.Timestamp}
	case envelope.RelationshipDelete:
		return summary{e.Kind(), e.ID, e.UserID, e.Timestamp}
	case envelope.ViewUpdate:
		return summary{e.Kind(), e.ViewType, e.UserID, e.Timestamp}
	default:
		return summary{Kind: env.Kind()}
	}
}

func (w *watcher) print(frame []byte, env envelope.Envelope) error {
	switch w.format {
	case output.FormatJSON:
		_, err := fmt.Fprintf(w.out, "%s\n", frame)
		return err
	case output.FormatYAML:
		var doc map[string]any
		if err := json.Unmarshal(frame, &doc); err != nil {
			return err
		}
		return output.NewFormatter(output.FormatYAML).Format(w.out, doc)
	default:
		s := summarize(env)
		_, err := fmt.Fprintf(w.out, "%s  %-18s  %-36s  %s\n", s.Timestamp, s.Kind, s.ID, s.UserID)
		return err
	}
}
