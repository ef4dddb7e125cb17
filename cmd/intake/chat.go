package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/bureauzwartjes/intake/client"
)

var (
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true)
	optionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true)
)

func chatCommand() *cobra.Command {
	var (
		addr   string
		locale string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running relay from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), addr, locale)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:3100", "relay base URL")
	cmd.Flags().StringVar(&locale, "locale", "nl", "conversation locale (nl or en)")
	return cmd
}

func runChat(ctx context.Context, addr, locale string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	// shown is the part of the streaming reply already on screen
	var shown string
	s := client.New(addr,
		client.WithLocale(locale),
		client.WithOnUpdate(func(v client.View) {
			if len(v.Display) > len(shown) && strings.HasPrefix(v.Display, shown) {
				fmt.Print(v.Display[len(shown):])
				shown = v.Display
			}
		}),
	)

	fmt.Println(infoStyle.Render("Type a message, a number to pick an option, /reset to start over or /quit to leave."))
	fmt.Println()
	printAssistant(client.Display(s.Turns()[0]))

	for {
		opts := s.Options()
		for i, o := range opts {
			fmt.Println(optionStyle.Render(fmt.Sprintf("  %d) %s", i+1, o)))
		}

		input, err := line.Prompt("je> ")
		if err != nil {
			// Ctrl+C, Ctrl+D and a closed terminal all end the chat
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			s.Reset()
			printAssistant(client.Display(s.Turns()[0]))
			continue
		}
		line.AppendHistory(input)

		sendCtx, cancel := signal.NotifyContext(ctx, os.Interrupt)
		fmt.Print(assistantStyle.Render("Bureau Zwartjes: "))
		shown = ""

		var view client.View
		if n, convErr := strconv.Atoi(input); convErr == nil && n >= 1 && n <= len(opts) {
			view, err = s.Choose(sendCtx, n-1)
		} else {
			view, err = s.Send(sendCtx, input)
		}
		cancel()

		if len(view.Display) > len(shown) && strings.HasPrefix(view.Display, shown) {
			fmt.Print(view.Display[len(shown):])
		}
		fmt.Println()
		if err != nil {
			fmt.Println(doneStyle.Render(failureText(s, err)))
		}
		fmt.Println()

		if s.Complete() {
			fmt.Println(doneStyle.Render(client.CompletedText(locale)))
			return nil
		}
	}
}

// failureText is what to show for a failed send. Relay failures already
// appended a localized notice to the transcript; input rejected locally did
// not, so the error itself is shown.
func failureText(s *client.Session, err error) string {
	var reqErr *client.RequestError
	if !errors.As(err, &reqErr) {
		return err.Error()
	}
	turns := s.Turns()
	return client.Display(turns[len(turns)-1])
}

func printAssistant(text string) {
	fmt.Println(assistantStyle.Render("Bureau Zwartjes: ") + text)
	fmt.Println()
}
