package spork

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

const (
	embedFieldValueLimit = 1024
	colorBlue            = 0x3498db
)

// status emojis, in the order they're shown
var statusEmoji = []struct {
	status discordgo.Status
	label  string
	emoji  string
}{
	{discordgo.StatusOnline, "Online", "<:desktop_online:1227088846655586384>"},
	{discordgo.StatusIdle, "Idle", "<:idle:1227088830188884009>"},
	{discordgo.StatusDoNotDisturb, "DND", "<:do_not_disturb:1227088811012657295>"},
	{discordgo.StatusOffline, "Offline", "<:offline:1227088791244771359>"},
}

// newEmbed returns an embed with a random pastel colour
func newEmbed(title string, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       pastelColor(),
	}
}

func addField(e *discordgo.MessageEmbed, name string, value string, inline bool) {
	e.Fields = append(
		e.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  truncate(value, embedFieldValueLimit),
			Inline: inline,
		},
	)
}

// guildGraphics lists links to the guild's icon, splash and banner
func guildGraphics(g *discordgo.Guild, bold bool) string {
	var lines []string
	add := func(label, url string) {
		if bold {
			label = "**" + label + "**"
		}
		lines = append(lines, fmt.Sprintf("%s [click here](%s)", label, url))
	}
	if g.Icon != "" {
		add("Icon:", discordgo.EndpointGuildIcon(g.ID, g.Icon))
	}
	if g.Splash != "" {
		add("Splash:", discordgo.EndpointGuildSplash(g.ID, g.Splash))
	}
	if g.Banner != "" {
		add("Banner:", discordgo.EndpointGuildBanner(g.ID, g.Banner))
	}
	if len(lines) == 0 {
		return "This guild has no graphics."
	}
	return strings.Join(lines, "\n")
}
