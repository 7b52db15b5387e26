package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"lms-zabbix-sync/core/event"

	"github.com/spf13/cobra"
)

// decodeCmd prints the change event a trigger message decodes to.
var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a trigger message and print the change event",
	Long: `Reads one LMS trigger message from a file, or from stdin when no file is
given, and prints the decoded change event as JSON.

Examples:
  decode message.json
  echo '{"Action":"INSERT","Table":"nodes","Payload":{"id":1,"netdev":4,"ipaddr":"10.0.0.1"}}' | decode`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	RootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)
	if len(args) == 1 {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	ev, err := event.Decode(raw, time.Now())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}
