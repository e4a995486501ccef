// Command obixctl is a one-shot CLI exercising pkg/obixclient against a
// running obixd, analogous to the teacher's ap-* one-shot tools.
// Grounded on Brightgate's cobra+pflag CLI convention (ap-configctl and
// friends all build a root cobra.Command with persistent flags for the
// service address).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"obixd/internal/model"
	"obixd/pkg/obixclient"
)

var (
	serverURL   string
	requesterID string
	timeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "obixctl",
		Short: "Command-line client for an oBIX server",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "obixd base URL")
	root.PersistentFlags().StringVar(&requesterID, "requester", "", "requester id (random if unset)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(readCmd(), signOffCmd(), watchMakeCmd(), watchPollCmd(), historyQueryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *obixclient.Handle {
	var opts []obixclient.Option
	if requesterID != "" {
		opts = append(opts, obixclient.WithRequesterID(requesterID))
	}
	return obixclient.New(serverURL, opts...)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <href>",
		Short: "Read an object by href",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			n, err := client().Read(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(string(model.EncodeXML(n)))
			return nil
		},
	}
}

func signOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signoff <device-href>",
		Short: "Sign off a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			return client().SignOff(ctx, args[0])
		},
	}
}

func watchMakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-make",
		Short: "Create a new watch and print its href",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			href, err := client().WatchMake(ctx)
			if err != nil {
				return err
			}
			fmt.Println(href)
			return nil
		},
	}
}

func watchPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-poll <watch-href>",
		Short: "Long-poll a watch for changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			n, err := client().WatchPollChanges(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d item(s) changed\n", len(n.Children))
			fmt.Println(string(model.EncodeXML(n)))
			return nil
		},
	}
}

func historyQueryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history-query <dev-id>",
		Short: "Query a device's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()

			filter := &model.Node{Kind: model.Obj, Is: "obix:HistoryFilter"}
			if limit > 0 {
				filter.AddChild(&model.Node{Kind: model.Int, Name: "limit", Val: fmt.Sprintf("%d", limit)})
			}

			n, err := client().HistoryQuery(ctx, args[0], filter)
			if err != nil {
				return err
			}
			var count, bytesTotal int
			for _, c := range n.Children {
				if c.Name == "count" {
					fmt.Sscanf(c.Val, "%d", &count)
				}
				if c.Name == "data" {
					for _, rec := range c.Children {
						bytesTotal += len(rec.Val)
					}
				}
			}
			fmt.Printf("%d record(s), %s\n", count, humanize.Bytes(uint64(bytesTotal)))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records to return")
	return cmd
}
