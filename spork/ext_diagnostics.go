package spork

import (
	"bytes"
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const codeBlockOverhead = len("```\n\n```")

func init() {
	RegisterExtension(
		DiagnosticsExtension, func() Extension {
			return ExtensionFunc(
				func(bot *Spork) error {
					return bot.AddCommand(
						&Command{
							Name:        "jsk",
							Aliases:     []string{"jishaku"},
							Description: "Bot diagnostics and extension management",
							Params: []Param{
								{Name: "subcommand"},
								{Name: "extension"},
							},
							Guards:  []Guard{IsOwner()},
							Hidden:  true,
							Handler: diagnostics,
						},
					)
				},
			)
		},
	)
}

func diagnostics(ctx context.Context, c *Context) error {
	sub := strings.ToLower(c.Arg(0))
	switch sub {
	case "":
		_, err := c.Send(diagnosticsSummary(c.Bot))
		return err
	case "ext", "extensions":
		return sendCodeBlock(c, extensionTable(c.Bot))
	case "commands", "cmds":
		return sendCodeBlock(c, commandTable(c.Bot))
	case "usage":
		usage, err := c.Bot.CommandUsageCounts(ctx)
		if err != nil {
			return err
		}
		return sendCodeBlock(c, usageTable(usage))
	case "load", "unload", "reload":
		return manageExtension(ctx, c, sub)
	default:
		return &BadArgumentError{
			Param: c.Command.Params[0],
			Value: c.Arg(0),
			Err:   fmt.Errorf("unknown subcommand"),
		}
	}
}

func diagnosticsSummary(s *Spork) string {
	guilds, users := s.cacheCounts()
	lines := []string{
		fmt.Sprintf(
			"Spork %s (commit %s), discordgo %s, %s on %s/%s",
			Version, CommitSHA, discordgo.VERSION, runtime.Version(), runtime.GOOS, runtime.GOARCH,
		),
		fmt.Sprintf(
			"Process started %s, running for %s",
			discordTimestamp(s.StartedAt(), "R"),
			durafmt.Parse(s.Uptime().Round(time.Second)).String(),
		),
		fmt.Sprintf(
			"%s loaded, %s registered",
			pluralCount(len(s.Extensions()), "extension"),
			pluralCount(len(s.Commands()), "command"),
		),
		fmt.Sprintf(
			"Can see %s and %s",
			pluralCount(guilds, "guild"),
			pluralCount(users, "user"),
		),
		fmt.Sprintf(
			"Gateway connected: %t, heartbeat latency %s",
			s.Connected(),
			s.session.HeartbeatLatency().Round(time.Millisecond),
		),
	}
	return strings.Join(lines, "\n")
}

func newTable(header ...string) (*tablewriter.Table, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	table := tablewriter.NewWriter(buf)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	return table, buf
}

// extensionTable shows each startup load result, plus anything loaded
// since then
func extensionTable(s *Spork) string {
	table, buf := newTable("Extension", "Loaded", "Result", "Duration", "Error")
	loaded := map[string]bool{}
	for _, name := range s.Extensions() {
		loaded[name] = true
	}
	seen := map[string]bool{}
	for _, r := range s.LoadResults() {
		seen[r.Extension] = true
		result := "ok"
		errText := ""
		if !r.Success {
			result = "failed"
			errText = truncate(r.Err.Error(), 60)
		}
		table.Append(
			[]string{
				r.Extension,
				strconv.FormatBool(loaded[r.Extension]),
				result,
				r.Duration.Round(time.Microsecond).String(),
				errText,
			},
		)
	}
	for _, name := range s.Extensions() {
		if !seen[name] {
			table.Append([]string{name, "true", "ok", "", ""})
		}
	}
	table.Render()
	return buf.String()
}

func commandTable(s *Spork) string {
	table, buf := newTable("Command", "Aliases", "Extension", "Slash", "Cooldown")
	for _, cmd := range s.Commands() {
		cooldown := ""
		if cmd.Cooldown != nil {
			cooldown = cmd.Cooldown.String()
		}
		table.Append(
			[]string{
				cmd.Name,
				strings.Join(cmd.Aliases, ", "),
				cmd.extension,
				strconv.FormatBool(cmd.Slash),
				cooldown,
			},
		)
	}
	table.Render()
	return buf.String()
}

func usageTable(usage []CommandUsage) string {
	table, buf := newTable("Command", "Uses")
	for _, u := range usage {
		table.Append([]string{u.Command, groupThousands(u.Count)})
	}
	table.Render()
	return buf.String()
}

// sendCodeBlock sends text in a code block, cut to fit in one message
func sendCodeBlock(c *Context, text string) error {
	text = truncate(strings.TrimRight(text, "\n"), discordMaxMessageLength-codeBlockOverhead)
	_, err := c.Send("```\n" + text + "\n```")
	return err
}

func manageExtension(ctx context.Context, c *Context, action string) error {
	name := c.Arg(1)
	if name == "" {
		return &MissingRequiredArgumentError{Param: c.Command.Params[1]}
	}

	var err error
	switch action {
	case "load":
		err = c.Bot.LoadExtension(ctx, name)
	case "unload":
		err = c.Bot.UnloadExtension(ctx, name)
	default:
		err = c.Bot.ReloadExtension(ctx, name)
	}
	if err != nil {
		return sendCodeBlock(c, err.Error())
	}
	_, err = c.Send(fmt.Sprintf("%sed `%s`.", strings.ToUpper(action[:1])+action[1:], normalizeExtensionName(name)))
	return err
}
