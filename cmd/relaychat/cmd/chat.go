package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/relaychat/internal/chat"
	"github.com/nfrund/relaychat/internal/chatclient"
	"github.com/nfrund/relaychat/internal/config"
	"github.com/nfrund/relaychat/internal/logging"
	"github.com/nfrund/relaychat/internal/transcript"
)

type chatOptions struct {
	username   string
	room       string
	transcript string
	history    int
	poll       bool
}

var chatOpts chatOptions

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a chat room from the terminal",
	Long: `Join a room and chat. Every line you type is sent to the relay;
messages from the room are printed as they arrive.

Commands:
  /health   check both relay sides
  /who      show how many clients are connected
  /quit     leave

Examples:
  relaychat chat --username ana
  relaychat chat --username ana --room lobby --transcript ~/chat/lobby.jsonl
  relaychat chat --username ana --poll`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ccfg := clientConfig(cfg)
		if chatOpts.room != "" {
			ccfg.Room = chatOpts.room
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logging.NewWriter(cmd.ErrOrStderr(), slog.LevelWarn)
		return runChat(ctx, ccfg, chatOpts, cmd.InOrStdin(), cmd.OutOrStdout(), afero.NewOsFs(), logger)
	},
}

// printer serializes terminal output from event handlers and the input loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
	tw  *transcript.Writer
	log *slog.Logger
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

// message records m in the transcript before printing it.
func (p *printer) message(m chat.ChatMessage) {
	if p.tw != nil {
		if err := p.tw.Write(m); err != nil {
			p.log.Warn("Failed to write transcript", "error", err)
		}
	}
	p.line("%s %s: %s", clock(m.Timestamp), m.Username, m.Text)
}

// clock renders an RFC3339 timestamp as local wall-clock time.
func clock(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "[--:--:--]"
	}
	return t.Local().Format("[15:04:05]")
}

func runChat(ctx context.Context, cfg chatclient.Config, opts chatOptions, in io.Reader, out io.Writer, fs afero.Fs, logger *slog.Logger) error {
	if strings.TrimSpace(opts.username) == "" {
		return fmt.Errorf("a username is required")
	}
	p := &printer{out: out, log: logger}
	// seen holds every id already shown, including the transcript's.
	seen := chat.NewMessageLog(1000)

	if opts.transcript != "" {
		past, err := transcript.Read(fs, opts.transcript, 0)
		if err != nil {
			return err
		}
		seen.Append(past...)
		if opts.history > 0 && len(past) > opts.history {
			past = past[len(past)-opts.history:]
		}
		for _, m := range past {
			p.line("%s %s: %s", clock(m.Timestamp), m.Username, m.Text)
		}
		tw, err := transcript.Open(fs, opts.transcript)
		if err != nil {
			return err
		}
		defer tw.Close()
		p.tw = tw
	}

	client := chatclient.New(cfg, chatclient.WithLogger(logger))
	show := func(ev chatclient.Event) {
		switch ev.Kind {
		case chatclient.EventConnected:
			p.line("* connected")
		case chatclient.EventDisconnected:
			p.line("* disconnected")
		case chatclient.EventError:
			p.line("! %v", ev.Err)
		case chatclient.EventMessage:
			p.message(*ev.Message)
		}
	}
	client.Subscribe(func(ev chatclient.Event) {
		if ev.Kind == chatclient.EventMessage && len(seen.Append(*ev.Message)) == 0 {
			return
		}
		show(ev)
	})
	defer client.Disconnect()

	if opts.poll {
		// The poller appends to seen itself and delivers only new messages.
		poller := chatclient.NewPoller(cfg, seen, chatclient.WithLogger(logger))
		poller.Subscribe(show)
		pollCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = poller.Run(pollCtx) }()
	} else {
		// A failed first attempt is reported as an event and retried.
		_ = client.Connect(ctx)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			text = strings.TrimSpace(text)
			switch {
			case text == "":
			case text == "/quit":
				return nil
			case text == "/health":
				h := client.Health(ctx)
				p.line("* producer %s, consumer %s", status(h.Producer), status(h.Consumer))
			case text == "/who":
				if n, ok := client.ActiveConnections(); ok {
					p.line("* %d connected", n)
				} else {
					p.line("* connection count unknown")
				}
			default:
				if n := utf8.RuneCountInString(text); n > chat.MaxTextLength {
					p.line("! message is %d characters, longer than the suggested %d", n, chat.MaxTextLength)
				}
				client.SendMessage(ctx, opts.username, text, cfg.Room)
			}
		}
	}
}

func init() {
	chatCmd.Flags().StringVarP(&chatOpts.username, "username", "u", "", "name shown with your messages (required)")
	chatCmd.Flags().StringVarP(&chatOpts.room, "room", "r", "", "room to join (defaults to CHAT_ROOM)")
	chatCmd.Flags().StringVar(&chatOpts.transcript, "transcript", "", "append received messages to this file")
	chatCmd.Flags().IntVar(&chatOpts.history, "history", 20, "transcript lines to replay on start")
	chatCmd.Flags().BoolVar(&chatOpts.poll, "poll", false, "poll for messages instead of holding a connection")
	_ = chatCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(chatCmd)
}
