package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/relay/go/pkg/relay"
)

var (
	flagGenServer   string
	flagGenText     string
	flagGenFile     string
	flagGenModel    string
	flagGenStreamID string
)

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Start a generation against a running server",
	Long: `Start a generation on a relay server and print the stream id.

The prompt comes from --text, --file, or stdin (in that order of
precedence). Follow the output with 'relay tail <stream-id>'.

Examples:
  relay gen --text "write a haiku about queues"
  relay gen --file prompt.txt --model gpt-4o-mini
  echo "hello" | relay gen`,
	RunE: runGen,
}

func init() {
	genCmd.Flags().StringVar(&flagGenServer, "server", "", "server base URL (default http://127.0.0.1 + config addr)")
	genCmd.Flags().StringVar(&flagGenText, "text", "", "prompt text")
	genCmd.Flags().StringVar(&flagGenFile, "file", "", "read prompt from file")
	genCmd.Flags().StringVar(&flagGenModel, "model", "", "override the server's default model")
	genCmd.Flags().StringVar(&flagGenStreamID, "stream-id", "", "use a fixed stream id instead of a minted one")
	rootCmd.AddCommand(genCmd)
}

// serverURL resolves the server base URL from the flag or the config addr.
func serverURL(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	addr := cfg.Addr
	if len(addr) > 0 && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr, nil
}

func runGen(cmd *cobra.Command, args []string) error {
	prompt := flagGenText
	switch {
	case prompt != "":
	case flagGenFile != "":
		data, err := os.ReadFile(flagGenFile)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		prompt = string(data)
	}
	if prompt == "" {
		return fmt.Errorf("empty prompt: use --text, --file, or stdin")
	}

	base, err := serverURL(flagGenServer)
	if err != nil {
		return err
	}

	body, err := json.Marshal(relay.StartRequest{
		StreamID: flagGenStreamID,
		Prompt:   prompt,
		Model:    flagGenModel,
	})
	if err != nil {
		return err
	}
	resp, err := http.Post(base+"/v1/streams", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("start generation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var started relay.StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Println(started.StreamID)
	return nil
}
