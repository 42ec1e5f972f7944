package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skippy-ai/skippy/pkg/skippy/ipc"
	"github.com/skippy-ai/skippy/pkg/skippy/paths"
)

// newPromptCmd creates the `skippy prompt` command: run one prompt
// through the daemon and print the answer.
func newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "Run a prompt through the running daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPrompt,
	}
	cmd.Flags().String("channel", "", "channel context for the prompt")
	cmd.Flags().String("user", "", "user identifier")
	cmd.Flags().String("model", "", "model override")
	cmd.Flags().String("context", "", "extra context string")
	cmd.Flags().Bool("chat", false, "deliver the answer to the channel instead of stdout")
	cmd.Flags().BoolP("quiet", "q", false, "suppress status lines")
	return cmd
}

func runPrompt(cmd *cobra.Command, args []string) error {
	root, err := paths.DataDir()
	if err != nil {
		return err
	}

	channel, _ := cmd.Flags().GetString("channel")
	user, _ := cmd.Flags().GetString("user")
	model, _ := cmd.Flags().GetString("model")
	extra, _ := cmd.Flags().GetString("context")
	toChat, _ := cmd.Flags().GetBool("chat")
	quiet, _ := cmd.Flags().GetBool("quiet")

	output := "stdout"
	if toChat {
		output = "chat"
	}

	client := ipc.NewClient(paths.SocketFile(root))
	streamed := false
	answer, err := client.Do(ipc.Request{
		Type:    "prompt",
		Prompt:  strings.Join(args, " "),
		Output:  output,
		Channel: channel,
		User:    user,
		Model:   model,
		Context: extra,
	}, func(frame ipc.Frame) {
		switch frame.Type {
		case "status":
			if !quiet {
				fmt.Fprintln(os.Stderr, "· "+frame.Message)
			}
		case "chunk":
			fmt.Print(frame.Content)
			streamed = true
		}
	})
	if err != nil {
		return err
	}
	if streamed {
		fmt.Println()
	} else if !toChat {
		fmt.Println(answer)
	}
	return nil
}
