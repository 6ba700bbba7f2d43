// Command chatcli is a terminal surface for the chat service: it logs in,
// opens a channel session and lists, reads, sends or follows messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/client"
	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/wire"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type options struct {
	server   string
	email    string
	password string
	register bool
	with     int64
	product  int64
	text     string
	image    bool
	logLevel string
	timeout  time.Duration
}

const usage = `usage: chatcli [flags] <command>

commands:
  conversations   list conversations with unread counts
  history         show and mark read the conversation --with <user> [--product <id>]
  send            send --text to --with <user> [--product <id>]
  listen          print incoming events until interrupted
`

func main() {
	code, err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string, out io.Writer) (int, error) {
	var o options
	fs := pflag.NewFlagSet("chatcli", pflag.ContinueOnError)
	fs.StringVar(&o.server, "server", envOr("CHAT_SERVER_URL", "http://localhost:8080"), "API base URL")
	fs.StringVar(&o.email, "email", os.Getenv("CHAT_EMAIL"), "account email")
	fs.StringVar(&o.password, "password", os.Getenv("CHAT_PASSWORD"), "account password")
	fs.BoolVar(&o.register, "register", false, "create the account before logging in")
	fs.Int64Var(&o.with, "with", 0, "counterpart user id")
	fs.Int64Var(&o.product, "product", 0, "product id scoping the conversation")
	fs.StringVar(&o.text, "text", "", "message content")
	fs.BoolVar(&o.image, "image", false, "send --text as an encoded image payload")
	fs.StringVar(&o.logLevel, "log-level", "WARN", "log level")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "how long send waits for confirmation")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitConfig, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitConfig, errors.New("exactly one command expected")
	}
	if o.email == "" || o.password == "" {
		return exitConfig, errors.New("--email and --password are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewFetcher(strings.TrimRight(o.server, "/"), "", nil)
	if o.register {
		if _, err := api.Register(ctx, o.email, o.password); err != nil {
			return exitRuntime, fmt.Errorf("register: %w", err)
		}
	}
	tok, err := api.Login(ctx, o.email, o.password)
	if err != nil {
		return exitRuntime, fmt.Errorf("login: %w", err)
	}
	api = api.WithToken(tok.Token)

	switch cmd := fs.Arg(0); cmd {
	case "conversations":
		return exitCode(listConversations(ctx, api, out))
	case "history":
		return exitCode(showHistory(ctx, api, tok, o, out))
	case "send":
		return exitCode(send(ctx, tok, o, out))
	case "listen":
		return exitCode(listen(ctx, api, tok, o, out))
	default:
		fs.Usage()
		return exitConfig, fmt.Errorf("unknown command %q", cmd)
	}
}

func exitCode(err error) (int, error) {
	if err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o options) productID() *int64 {
	if o.product <= 0 {
		return nil
	}
	p := o.product
	return &p
}

func openSession(ctx context.Context, server string, tok *client.Token, level string) *client.Session {
	s := client.New(client.Config{
		URL:    "ws" + strings.TrimPrefix(server, "http") + "/ws",
		UserID: tok.UserID,
		Token:  tok.Token,
		Log:    logs.GetLoggerFromString(level),
	})
	s.Start(ctx)
	return s
}

func listConversations(ctx context.Context, api *client.Fetcher, out io.Writer) error {
	convs, err := api.Conversations(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"With", "Product", "Unread", "Last message", "At"})
	for _, c := range convs {
		table.Append([]string{
			strconv.FormatInt(c.CounterpartID, 10),
			formatProduct(c.ProductID),
			strconv.FormatInt(c.UnreadCount, 10),
			preview(c.LastMessage),
			c.LastMessage.CreatedAt.Local().Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func showHistory(ctx context.Context, api *client.Fetcher, tok *client.Token, o options, out io.Writer) error {
	if o.with <= 0 {
		return errors.New("--with is required")
	}
	msgs, err := api.History(ctx, o.with, o.productID())
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintln(out, formatMessage(tok.UserID, m))
	}
	_, err = api.MarkRead(ctx, o.with, o.productID())
	return err
}

// send waits until the server confirms or rejects the message.
func send(ctx context.Context, tok *client.Token, o options, out io.Writer) error {
	typ := data.MessageTypeText
	if o.image {
		typ = data.MessageTypeImage
	}

	s := openSession(ctx, o.server, tok, o.logLevel)
	defer s.Close()

	id, err := s.Send(o.text, typ, o.with, o.productID())
	if err != nil {
		return err
	}

	timeout := time.After(o.timeout)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind != client.EventFrame || ev.Frame.ClientMessageID != id {
				continue
			}
			if ev.Frame.Type == wire.TypeError {
				return fmt.Errorf("rejected: %s", ev.Frame.Error.Message)
			}
			if ev.Frame.Type == wire.TypeMessageSent {
				fmt.Fprintf(out, "sent #%d\n", ev.Frame.Message.ID)
				return nil
			}
		case <-timeout:
			return errors.New("no confirmation from server; the message will not be retried")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// listen prints events until interrupted. It reconciles with the server
// each time the session becomes ready so messages received while offline
// are counted.
func listen(ctx context.Context, api *client.Fetcher, tok *client.Token, o options, out io.Writer) error {
	s := openSession(ctx, o.server, tok, o.logLevel)
	for {
		select {
		case ev := <-s.Events():
			switch {
			case ev.Kind == client.EventState:
				fmt.Fprintf(out, "-- %s\n", ev.State)
				if ev.State == client.Ready {
					if err := client.Sync(ctx, api, s); err != nil {
						fmt.Fprintf(out, "-- sync failed: %v\n", err)
					}
				}
			case ev.Frame.Type == wire.TypeNewMessage:
				fmt.Fprintln(out, formatMessage(tok.UserID, ev.Frame.Message))
			case ev.Frame.Type == wire.TypeNotificationUpdate:
				fmt.Fprintf(out, "-- unread: %t\n", ev.Frame.HasNewMessages)
			case ev.Frame.Type == wire.TypeError:
				fmt.Fprintf(out, "-- error: %s\n", ev.Frame.Error.Message)
			}
		case <-ctx.Done():
			s.Close()
			return nil
		}
	}
}

func formatProduct(p *int64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatInt(*p, 10)
}

func preview(m data.Message) string {
	if m.MessageType == data.MessageTypeImage {
		return "[image]"
	}
	if len(m.Content) > 40 {
		return m.Content[:37] + "..."
	}
	return m.Content
}

func formatMessage(me int64, m *data.Message) string {
	who := fmt.Sprintf("user %d", m.SenderID)
	if m.SenderID == me {
		who = "you"
	}
	return fmt.Sprintf("[%s] #%d %s (product %s): %s",
		m.CreatedAt.Local().Format(time.TimeOnly), m.ID, who, formatProduct(m.ProductID), preview(*m))
}
