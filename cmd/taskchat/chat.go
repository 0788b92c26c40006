package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/taskchat/internal/client"
	"github.com/basket/taskchat/internal/config"
	"github.com/basket/taskchat/internal/tui"
)

func newChatCmd() *cobra.Command {
	var (
		server   string
		email    string
		register bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the task assistant on a running server",
		Long: `Sign in and chat with the task assistant. The password is read from
TASKCHAT_PASSWORD, or prompted for on stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server == "" {
				server = os.Getenv("TASKCHAT_SERVER")
			}
			if server == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("config load: %w", err)
				}
				server = cfg.BindAddr
			}
			if email == "" {
				email = os.Getenv("TASKCHAT_EMAIL")
			}
			if email == "" {
				return errors.New("an account email is required (--email or TASKCHAT_EMAIL)")
			}
			return runChat(cmd.Context(), chatOptions{
				server:   serverURL(server),
				email:    email,
				register: register,
				in:       cmd.InOrStdin(),
				out:      cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server address (default: TASKCHAT_SERVER or bind_addr from config)")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&register, "register", false, "create the account before signing in")
	return cmd
}

type chatOptions struct {
	server   string
	email    string
	register bool
	in       io.Reader
	out      io.Writer
}

func runChat(ctx context.Context, opts chatOptions) error {
	in := bufio.NewReader(opts.in)

	password := os.Getenv("TASKCHAT_PASSWORD")
	if password == "" {
		fmt.Fprintf(opts.out, "Password for %s: ", opts.email)
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	c, err := client.New(opts.server)
	if err != nil {
		return err
	}
	if opts.register {
		if _, err := c.Register(ctx, opts.email, password); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}
	if _, err := c.Login(ctx, opts.email, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() { _ = c.Logout(context.Background()) }()

	if f, ok := opts.out.(*os.File); ok && isatty.IsTerminal(f.Fd()) && opts.in == os.Stdin {
		chatCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		return tui.RunChat(chatCtx, tui.ChatConfig{
			Client:     c,
			Email:      opts.email,
			Server:     opts.server,
			CancelFunc: cancel,
		})
	}
	return chatLines(ctx, c, in, opts.out)
}

// chatLines is the plain line-mode chat used when stdout is not a terminal.
func chatLines(ctx context.Context, c tui.Chatter, in *bufio.Reader, out io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := in.ReadString('\n')
		text := strings.TrimSpace(line)
		if text != "" {
			if text == "/quit" || text == "/exit" {
				return nil
			}
			reply, chatErr := c.Chat(ctx, text)
			if chatErr != nil {
				if client.IsUnauthorized(chatErr) {
					return chatErr
				}
				fmt.Fprintln(out, "error:", chatErr)
			} else {
				fmt.Fprintln(out, reply.Response)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
