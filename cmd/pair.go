package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pairgate/internal/session"
)

type pairResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	ExpiresIn  int    `json:"expiresIn"`
	RetryAfter int    `json:"retryAfter"`
}

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair [phone]",
		Short: "Request a pairing code from a running gateway (interactive if no phone given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var phone string
			if len(args) == 1 {
				phone = args[0]
			} else {
				p, err := promptString("WhatsApp number", "International format, e.g. +243900000000", "", func(s string) error {
					if !session.ValidPhone(strings.TrimSpace(s)) {
						return session.ErrInvalidPhone
					}
					return nil
				})
				if err != nil {
					return err
				}
				phone = p
			}
			return runPair(cmd.Context(), strings.TrimSpace(phone))
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "url", "", "gateway base URL (default from config)")
	return cmd
}

func runPair(ctx context.Context, phone string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !session.ValidPhone(phone) {
		return session.ErrInvalidPhone
	}
	fmt.Println("Requesting pairing code...")

	var resp pairResponse
	status, err := gatewayCall(ctx, http.MethodPost, "/generate-pairing-code", map[string]string{"phoneNumber": phone}, &resp)
	if err != nil {
		fmt.Fprintln(os.Stderr, formatGatewayError(err))
		os.Exit(1)
	}
	if !resp.Success {
		if status == http.StatusTooManyRequests && resp.RetryAfter > 0 {
			return fmt.Errorf("%s (retry in %s)", resp.Error, time.Duration(resp.RetryAfter)*time.Second)
		}
		return fmt.Errorf("%s", resp.Error)
	}

	codeStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#25D366")).
		Border(lipgloss.RoundedBorder()).
		Padding(0, 2)
	fmt.Println()
	fmt.Println(codeStyle.Render(resp.Code))
	fmt.Println()
	if resp.Message != "" {
		fmt.Printf("%s. ", capitalize(resp.Message))
	}
	fmt.Printf("Valid for %s.\n", time.Duration(resp.ExpiresIn)*time.Second)
	fmt.Println("On the phone: Settings > Linked devices > Link a device > Link with phone number instead.")
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
