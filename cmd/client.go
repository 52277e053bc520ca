package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/client"
	"github.com/facegate/facegate/internal/config"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a server interactively",
	Long: `Connect to a Facegate server and drive it from a menu.
Responses arrive asynchronously and are printed as they come in;
images sent by the server are saved under the configured save directory.`,
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().String("host", "", "Server host (overrides FACEGATE_HOST)")
	clientCmd.Flags().Int("port", 0, "Server port (overrides FACEGATE_PORT)")
	clientCmd.Flags().String("save-dir", "", "Directory for received images (overrides FACEGATE_SAVE_DIR)")
}

const clientMenu = `
1. Recognize face
2. Capture image
3. Add known face
4. List known faces
5. Ping server
6. Collect dataset samples
7. Train from dataset
8. Clear known faces
9. Predict (alias of recognize)
0. Quit
`

func runClient(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger()

	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Client.Host = host
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Client.Port = port
	}
	if dir := mustGetString(cmd, "save-dir"); dir != "" {
		cfg.Client.SaveDir = dir
	}

	c := client.New(cfg.Client, logger, os.Stdout)
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Disconnect()

	reader := bufio.NewReader(os.Stdin)
	for c.Connected() {
		fmt.Print(clientMenu)
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}

		if err := runClientChoice(c, reader, strings.TrimSpace(line)); err != nil {
			if err == errClientQuit {
				return nil
			}
			fmt.Printf("request failed: %v\n", err)
		}
	}
	return nil
}

var errClientQuit = fmt.Errorf("quit")

func runClientChoice(c *client.Client, reader *bufio.Reader, choice string) error {
	switch choice {
	case "1":
		return c.RequestRecognition()
	case "2":
		return c.RequestCapture()
	case "3":
		name := promptLine(reader, "Name: ")
		path := promptLine(reader, "Image file: ")
		if name == "" || path == "" {
			fmt.Println("both a name and an image file are required")
			return nil
		}
		return c.AddKnownFace(name, path)
	case "4":
		return c.ListKnownFaces()
	case "5":
		return c.Ping()
	case "6":
		name := promptLine(reader, "Name: ")
		if name == "" {
			fmt.Println("a name is required")
			return nil
		}
		count, err := strconv.Atoi(promptLine(reader, "Samples: "))
		if err != nil || count <= 0 {
			count = 1
		}
		return c.CollectDataset(name, count)
	case "7":
		return c.TrainModel()
	case "8":
		if !confirmAction("Clear every known face? [y/N]: ") {
			fmt.Println("Cancelled.")
			return nil
		}
		return c.ClearModel()
	case "9":
		return c.Predict()
	case "0", "q", "quit", "exit":
		return errClientQuit
	default:
		fmt.Println("unknown choice")
		return nil
	}
}

func promptLine(reader *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
