package commands

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var (
		ids          []string
		resourceType string
		region       string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the deletion graph below resources",
		Long: `Ask a running daemon to discover every dependent child of the given
resources and print the resulting graph.

The default output is Graphviz DOT grouped by deletion layer. With --json the
layers, the deletion order and the edges are printed instead.`,
		Example: `  # Render a VPC teardown plan
  pockitectd graph --id vpc-0abc --type vpc --region us-east-1 | dot -Tsvg > vpc.svg

  # Deletion order as JSON
  pockitectd graph --id i-1,i-2 --type ec2_instance --region eu-west-1 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{
				"id":     {strings.Join(ids, ",")},
				"type":   {resourceType},
				"region": {region},
			}
			if jsonOutput {
				q.Set("format", "json")
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				strings.TrimRight(apiAddr, "/")+"/v1/graph?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach daemon: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("graph request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&ids, "id", nil, "resource id (repeatable or comma separated)")
	cmd.Flags().StringVarP(&resourceType, "type", "t", "", "resource type of the ids")
	cmd.Flags().StringVarP(&region, "region", "r", "", "region of the ids")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("region")

	return cmd
}
