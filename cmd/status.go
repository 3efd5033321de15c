package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

type botStatus struct {
	Connected  bool    `json:"connected"`
	Connecting bool    `json:"connecting"`
	Phase      string  `json:"phase"`
	Uptime     float64 `json:"uptime"`
	BotInfo    *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"botInfo"`
}

type healthStatus struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CacheSize   int    `json:"cacheSize"`
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the connection status of a running gateway",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			out, err := renderStatus(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, formatGatewayError(err))
				os.Exit(1)
			}
			fmt.Println(out)
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "url", "", "gateway base URL (default from config)")
	return cmd
}

func renderStatus(ctx context.Context) (string, error) {
	var st botStatus
	if _, err := gatewayCall(ctx, http.MethodGet, "/bot-status", nil, &st); err != nil {
		return "", err
	}
	var health healthStatus
	if _, err := gatewayCall(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return "", err
	}
	return formatStatus(st, health), nil
}

func formatStatus(st botStatus, health healthStatus) string {
	state := offStyle.Render("offline")
	switch {
	case st.Connected:
		state = okStyle.Render("connected")
	case st.Connecting:
		state = warnStyle.Render("pairing")
	}
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	rows := []string{row("Bot", state)}
	if st.BotInfo != nil {
		rows = append(rows, row("Account", st.BotInfo.Name+" ("+st.BotInfo.ID+")"))
	}
	if st.Phase != "" {
		rows = append(rows, row("Phase", st.Phase))
	}
	rows = append(rows,
		row("Uptime", (time.Duration(st.Uptime)*time.Second).String()),
		row("Codes", fmt.Sprintf("%d cached", health.CacheSize)),
		row("Env", health.Environment),
	)
	if health.Version != "" {
		rows = append(rows, row("Version", health.Version))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
