package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const (
	cliName   = "cli"
	cliSender = "cli"
)

// CLI implements domain.Channel for interactive terminal chat. Each line is a
// text message from sender "cli"; "/image <url>" simulates a photo.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	seq    int
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return cliName }

// Start runs the REPL and blocks until EOF, /quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(cliName, c)

	c.print("Relaybot CLI. Type a message, /image <url> to send a picture, /quit to exit.\n")
	c.print("You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.print("You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		msg := c.toInbound(line)
		if !c.bus.Publish(msg) {
			c.print("(message dropped)\nYou> ")
		}
	}
}

func (c *CLI) toInbound(line string) domain.InboundMessage {
	c.seq++
	id := strconv.Itoa(c.seq)
	msg := domain.InboundMessage{
		EventID:   "cli-" + id,
		Channel:   cliName,
		SenderID:  cliSender,
		MessageID: "cli-" + id,
		Timestamp: time.Now(),
	}
	if url, ok := strings.CutPrefix(line, "/image "); ok && strings.TrimSpace(url) != "" {
		msg.Attachments = []domain.Attachment{{Kind: domain.AttachmentImage, URL: strings.TrimSpace(url)}}
		return msg
	}
	msg.Text = line
	return msg
}

// Stop is a no-op; the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }

// Deliver prints one outbound payload.
func (c *CLI) Deliver(ctx context.Context, recipientID string, payload domain.OutboundPayload) error {
	switch payload.Kind {
	case domain.PayloadText:
		return c.print("--- Lorex ---\n" + payload.Text + "\n-------------\nYou> ")
	case domain.PayloadMedia:
		return c.print(fmt.Sprintf("[%s] %s\nYou> ", payload.Media, payload.URL))
	default:
		return fmt.Errorf("cli: unsupported payload kind %q", payload.Kind)
	}
}

func (c *CLI) print(s string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := io.WriteString(c.out, s)
	return err
}
