package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/room4-2/ordercall/app"
	"github.com/room4-2/ordercall/config"
	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/logging"
	"github.com/room4-2/ordercall/order"
	"github.com/room4-2/ordercall/session"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		orderPath    string
		scriptPath   string
		dbPath       string
		redisAddr    string
		keywordsOnly bool
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "callsim",
		Short: "Run an order confirmation call in the terminal",
		Long: `Run an order confirmation call against an order JSON file, playing the
customer from the keyboard or from a script with one utterance per line.

Examples:
  # Interactive call
  callsim --order order.json

  # Scripted call with the keyword classifier and no database
  callsim --order order.json --script call.txt --keywords-only --db off`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Configure(logging.Config{Level: logLevel, Output: cmd.ErrOrStderr()})

			data, err := os.ReadFile(orderPath)
			if err != nil {
				return fmt.Errorf("read order: %w", err)
			}
			rec, err := order.Decode(data)
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DatabasePath = dbPath
				if strings.EqualFold(dbPath, "off") {
					cfg.DatabasePath = ""
				}
			}
			cfg.RedisURL = redisAddr
			if keywordsOnly {
				cfg.GeminiAPIKey = ""
			}

			in := cmd.InOrStdin()
			echo := false
			if scriptPath != "" {
				f, err := os.Open(scriptPath)
				if err != nil {
					return fmt.Errorf("open script: %w", err)
				}
				defer f.Close()
				in, echo = f, true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runCall(ctx, a.Sessions, rec, in, cmd.OutOrStdout(), echo)
		},
	}

	cmd.Flags().StringVar(&orderPath, "order", "", "Order JSON file")
	cmd.Flags().StringVar(&scriptPath, "script", "", "Customer utterances, one per line (default: stdin)")
	cmd.Flags().StringVar(&dbPath, "db", "", `SQLite database path, "off" to disable (overrides DATABASE_PATH)`)
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Mirror the live session to this Redis address")
	cmd.Flags().BoolVar(&keywordsOnly, "keywords-only", false, "Classify with keywords only, even when GEMINI_API_KEY is set")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")
	_ = cmd.MarkFlagRequired("order")

	return cmd
}

// runCall plays one call: the agent greets, then each input line is a
// customer turn until the call reaches CLOSE or input ends
func runCall(ctx context.Context, sessions *session.Manager, rec *order.Record, in io.Reader, out io.Writer, echo bool) error {
	id, err := sessions.Start(ctx, rec)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.End(context.Background(), id) }()

	fmt.Fprintf(out, "Call %s for order %s\n\n", logging.ShortID(id), rec.ID)

	reply, err := sessions.Greet(ctx, id)
	if err != nil {
		return err
	}
	printAgent(out, reply)

	scanner := bufio.NewScanner(in)
	for reply.Checkpoint != dialogue.CheckpointClose {
		if !echo {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if echo {
			fmt.Fprintf(out, "Customer: %s\n", line)
		}

		reply, err = sessions.Turn(ctx, id, line)
		if err != nil {
			return err
		}
		printAgent(out, reply)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	desc, err := sessions.Describe(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nEnded at %s (language=%s authenticated=%t confirmed=%t modified=%t)\n",
		desc.Checkpoint, desc.Language, desc.Authenticated, desc.OrderConfirmed, desc.OrderModified)
	return nil
}

func printAgent(out io.Writer, reply session.Reply) {
	fmt.Fprintf(out, "Agent [%s]: %s\n", reply.Checkpoint, reply.Response)
}
