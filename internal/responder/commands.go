package responder

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/message"
)

// replyContext is everything a reply may depend on.
type replyContext struct {
	botName   string
	prefix    string
	sender    string
	now       time.Time
	sentAt    time.Time
	uptime    time.Duration
	cacheSize int
	printer   *message.Printer
}

type command struct {
	name    string
	aliases []string
	summary string
	reply   func(rc replyContext) string
}

// commands is the fixed keyword set, in menu order. It is filled in init
// because menuReply lists it.
var (
	commands     []command
	commandIndex map[string]*command
)

func init() {
	commands = []command{
		{name: "menu", summary: "show this menu", reply: menuReply},
		{name: "ping", summary: "check the bot's latency", reply: pingReply},
		{name: "help", aliases: []string{"aide"}, summary: "how to link a device", reply: helpReply},
		{name: "info", summary: "about this bot", reply: infoReply},
		{name: "time", summary: "current date and time", reply: timeReply},
		{name: "status", summary: "service status", reply: statusReply},
	}
	commandIndex = make(map[string]*command)
	for i := range commands {
		c := &commands[i]
		commandIndex[c.name] = c
		for _, a := range c.aliases {
			commandIndex[a] = c
		}
	}
}

func menuReply(rc replyContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\nHello %s!\n\nAvailable commands:\n", rc.botName, displayName(rc.sender))
	for _, c := range commands {
		fmt.Fprintf(&b, "%s%s - %s\n", rc.prefix, c.name, c.summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func pingReply(rc replyContext) string {
	latency := rc.now.Sub(rc.sentAt)
	if rc.sentAt.IsZero() || latency < 0 {
		latency = 0
	}
	return rc.printer.Sprintf("Pong! Latency: %d ms", latency.Milliseconds())
}

func helpReply(rc replyContext) string {
	return fmt.Sprintf("*How to link a device*\n\n"+
		"1. Open the pairing page and enter your number in international format (e.g. +243900000000).\n"+
		"2. On your phone open WhatsApp > Linked devices > Link with phone number.\n"+
		"3. Type the 8-character code shown on the page. Codes expire after 5 minutes.\n\n"+
		"Send %smenu to list the commands.", rc.prefix)
}

func infoReply(rc replyContext) string {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return rc.printer.Sprintf("*%s*\n\nUptime: %s\nRuntime: %s %s/%s\nHeap: %d KB",
		rc.botName, formatUptime(rc.uptime), runtime.Version(), runtime.GOOS, runtime.GOARCH, mem.HeapAlloc/1024)
}

func timeReply(rc replyContext) string {
	zone, _ := rc.now.Zone()
	return fmt.Sprintf("Date: %s\nTime: %s\nTime zone: %s",
		rc.now.Format("Monday 2 January 2006"), rc.now.Format("15:04:05"), zone)
}

func statusReply(rc replyContext) string {
	return rc.printer.Sprintf("*Service status*\n\nConnection: online\nUptime: %s\nActive pairing codes: %d",
		formatUptime(rc.uptime), rc.cacheSize)
}

func unknownReply(rc replyContext, cmd string) string {
	return fmt.Sprintf("Unknown command: %s\nType %smenu to see the available commands.", cmd, rc.prefix)
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}

// formatUptime renders d as "1d 2h 3m 4s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	hours := secs % 86400 / 3600
	mins := secs % 3600 / 60
	secs %= 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
