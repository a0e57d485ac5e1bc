package relaycli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/oremus-labs/ol-chat-relay/internal/events"
	"github.com/oremus-labs/ol-chat-relay/internal/tools"
	"github.com/oremus-labs/ol-chat-relay/internal/transcript"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show relay health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			asJSON, err := opts.jsonOutput()
			if err != nil {
				return err
			}
			var body map[string]interface{}
			if err := client.GetJSON(cmd.Context(), "/healthz", &body); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), body)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "STATUS\tVIEWERS\tPENDING\tDATABASE")
			database := body["database"]
			if database == nil {
				database = "-"
			}
			fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", body["status"], body["viewers"], body["pending"], database)
			return tw.Flush()
		},
	}
}

func newToolsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the model may call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			asJSON, err := opts.jsonOutput()
			if err != nil {
				return err
			}
			var body struct {
				Tools []tools.Spec `json:"tools"`
			}
			if err := client.GetJSON(cmd.Context(), "/tools", &body); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), body.Tools)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "NAME\tPARAMETERS\tDESCRIPTION")
			for _, spec := range body.Tools {
				params := make([]string, 0, len(spec.Parameters))
				for _, p := range spec.Parameters {
					params = append(params, p.Name)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", spec.Name, strings.Join(params, ","), spec.Description)
			}
			return tw.Flush()
		},
	}
}

func newTranscriptCmd(opts *options) *cobra.Command {
	var showSystem bool
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print the conversation transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			asJSON, err := opts.jsonOutput()
			if err != nil {
				return err
			}
			var body struct {
				Entries []transcript.Entry `json:"entries"`
				Count   int                `json:"count"`
			}
			if err := client.GetJSON(cmd.Context(), "/transcript", &body); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), body)
			}
			for _, entry := range body.Entries {
				if entry.Role == transcript.RoleSystem && !showSystem {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", entry.Role, entry.Content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSystem, "system", false, "Include the system prompt")
	return cmd
}

func newSendCmd(opts *options) *cobra.Command {
	var (
		viaHTTP  bool
		noFollow bool
	)
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message and follow the reply",
		Long: `Send joins the relay as a viewer, submits the message and prints the
reply until the next end event. With --http the message is queued through the
operator endpoint instead, which requires the API token when one is configured.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			asJSON, err := opts.jsonOutput()
			if err != nil {
				return err
			}
			content := strings.Join(args, " ")
			r := &renderer{w: cmd.OutOrStdout(), json: asJSON}
			if viaHTTP {
				if noFollow {
					resp, err := client.Send(cmd.Context(), content)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued (%d pending).\n", resp.Pending)
					return nil
				}
				return sendOverHTTP(cmd.Context(), client, content, r)
			}
			return sendOverWebsocket(cmd.Context(), client, content, r, !noFollow)
		},
	}
	cmd.Flags().BoolVar(&viaHTTP, "http", false, "Queue through POST /messages instead of the websocket")
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "Return once the message is submitted")
	return cmd
}

// sendOverHTTP subscribes to /events before queueing so no reply event is missed.
func sendOverHTTP(ctx context.Context, client *Client, content string, r *renderer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		subscribed := false
		done <- client.StreamEvents(ctx, func(evt events.Event) bool {
			if !subscribed {
				subscribed = true
				close(ready)
				if evt.Type == events.TypeConnected {
					return true
				}
			}
			return !r.render(evt)
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		if err == nil {
			err = errors.New("event stream closed before subscribing")
		}
		return err
	}
	if _, err := client.Send(ctx, content); err != nil {
		return err
	}
	return <-done
}

func sendOverWebsocket(ctx context.Context, client *Client, content string, r *renderer, follow bool) error {
	viewer, err := client.Dial(ctx)
	if err != nil {
		return err
	}
	defer viewer.Close()

	if err := viewer.Send(content); err != nil {
		return err
	}
	if !follow {
		return nil
	}
	return receiveUntil(ctx, viewer, r, true)
}

// receiveUntil prints viewer events until ctx ends, the connection closes or,
// when stopAtEnd is set, a turn completes. The connected notice is skipped
// when stopAtEnd is set.
func receiveUntil(ctx context.Context, viewer *Viewer, r *renderer, stopAtEnd bool) error {
	stop := context.AfterFunc(ctx, func() { _ = viewer.Close() })
	defer stop()
	for {
		evt, err := viewer.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if stopAtEnd && evt.Type == events.TypeConnected {
			continue
		}
		if r.render(evt) && stopAtEnd {
			return nil
		}
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	var useSSE bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live event feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			asJSON, err := opts.jsonOutput()
			if err != nil {
				return err
			}
			r := &renderer{w: cmd.OutOrStdout(), json: asJSON}
			ctx := cmd.Context()
			if useSSE {
				err := client.StreamEvents(ctx, func(evt events.Event) bool {
					r.render(evt)
					return true
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			viewer, err := client.Dial(ctx)
			if err != nil {
				return err
			}
			defer viewer.Close()
			return receiveUntil(ctx, viewer, r, false)
		},
	}
	cmd.Flags().BoolVar(&useSSE, "sse", false, "Use the server-sent events feed instead of the websocket")
	return cmd
}
