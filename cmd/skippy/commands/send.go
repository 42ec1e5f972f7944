package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/skippy-ai/skippy/pkg/skippy/ipc"
	"github.com/skippy-ai/skippy/pkg/skippy/paths"
)

// newSendCmd creates the `skippy send` command: deliver a message to a
// chat channel without invoking the LLM.
func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message to a chat channel",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
	cmd.Flags().String("channel", "", "target channel name or id (required)")
	cmd.MarkFlagRequired("channel")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	root, err := paths.DataDir()
	if err != nil {
		return err
	}
	channel, _ := cmd.Flags().GetString("channel")

	client := ipc.NewClient(paths.SocketFile(root))
	_, err = client.Do(ipc.Request{
		Type:    "message",
		Message: strings.Join(args, " "),
		Channel: channel,
	}, nil)
	return err
}
