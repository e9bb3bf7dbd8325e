// Package topics provides a command that lists the live project topics of
// a running server.
package topics

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/rddm/cmd/application"
	"github.com/agentstation/rddm/internal/cmd/output"
	"github.com/agentstation/rddm/internal/server/events"
	"github.com/agentstation/rddm/internal/transport"
)

const requestTimeout = 10 * time.Second

// NewCommand creates the topics command. serverURL supplies the default API
// address when --server is not given.
func NewCommand(app application.Application, serverURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "topics",
		Aliases: []string{"top"},
		Short:   "List live project topics and their counters",
		Long: `Topics asks a running server for its fan-out statistics and lists every
live project topic with its subscriber count and how many envelopes were
published to it or dropped for lagging subscribers.`,
		Example: `  rddm topics
  rddm topics --server http://rddm.internal:3000 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, _ := cmd.Flags().GetString("server")
			if server == "" {
				server = serverURL()
			}
			prefix, _ := cmd.Flags().GetString("prefix")

			format, err := output.ParseFormat(app.OutputFormat())
			if err != nil {
				return err
			}

			client := transport.New(strings.TrimRight(server, "/") + "/" + strings.Trim(prefix, "/"))
			stats, err := Fetch(cmd.Context(), client)
			if err != nil {
				return err
			}
			app.Logger().Debug().
				Int("topics", stats.Topics).
				Int("subscribers", stats.Subscribers).
				Msg("Fetched topic statistics")

			return render(cmd.OutOrStdout(), output.DetectFormat(string(format)), stats)
		},
	}

	cmd.Flags().String("server", "", "API server URL (default $RDDM_SERVER_URL or http://localhost:3000)")
	cmd.Flags().String("prefix", "/api/v1", "API path prefix of the server")

	return cmd
}

// Fetch reads the fan-out statistics from the server behind client.
func Fetch(ctx context.Context, client *transport.Client) (events.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var body struct {
		Realtime events.Stats `json:"realtime"`
	}
	if err := client.Get(ctx, "stats", &body); err != nil {
		return events.Stats{}, err
	}
	return body.Realtime, nil
}

func render(w io.Writer, format output.Format, stats events.Stats) error {
	switch format {
	case output.FormatJSON, output.FormatYAML:
		return output.NewFormatter(format).Format(w, stats)
	}

	if len(stats.Projects) == 0 {
		_, err := fmt.Fprintln(w, "No live topics.")
		return err
	}

	data := output.Data{
		Headers:      []string{"Project", "Subscribers", "Published", "Dropped"},
		RightAligned: []int{1, 2, 3},
	}
	for _, p := range stats.Projects {
		data.Rows = append(data.Rows, []string{
			p.ProjectID,
			strconv.Itoa(p.Subscribers),
			strconv.FormatUint(p.Published, 10),
			strconv.FormatUint(p.Dropped, 10),
		})
	}
	if err := output.NewFormatter(output.FormatTable).Format(w, data); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d topics, %d subscribers, buffer capacity %d\n",
		stats.Topics, stats.Subscribers, stats.Capacity)
	return err
}
