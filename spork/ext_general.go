package spork

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/hako/durafmt"
	"github.com/lmittmann/tint"
	"runtime"
	"strings"
	"time"
)

const (
	cleanupDefault      = 100
	cleanupMax          = 100
	cleanupOwnerMax     = 1000
	cleanupNoticeDelay  = 2 * time.Second
	whoisMaxListedRoles = 15
	mebibyte            = 1 << 20
)

var verificationLevels = map[discordgo.VerificationLevel]string{
	discordgo.VerificationLevelNone:     "None",
	discordgo.VerificationLevelLow:      "Low",
	discordgo.VerificationLevelMedium:   "Medium",
	discordgo.VerificationLevelHigh:     "High",
	discordgo.VerificationLevelVeryHigh: "Highest",
}

func init() {
	RegisterExtension(
		"exts/general", func() Extension {
			return &generalExtension{}
		},
	)
}

// generalExtension has the informational commands, message cleanup, and
// the mention responder
type generalExtension struct {
	bot *Spork
}

func (g *generalExtension) Register(bot *Spork) error {
	g.bot = bot
	bot.AddListener(EventMessage, "mention_responder", g.mentionResponder)

	return errors.Join(
		bot.AddCommand(
			&Command{
				Name:        "cleanup",
				Aliases:     []string{"cu", "pb"},
				Description: "Purges messages from and relating to the bot.",
				Params: []Param{
					{
						Name:        "amount",
						Description: "The number of messages to check (1-100), defaults to 100.",
						Type:        ParamInteger,
					},
				},
				Guards:   []Guard{GuildOnly()},
				Cooldown: &Cooldown{Rate: 1, Per: 5 * time.Second, Bucket: BucketUser},
				Handler:  g.cleanup,
			},
		),
		bot.AddCommand(
			&Command{
				Name:        "whois",
				Description: "Shows info about a user",
				Params: []Param{
					{Name: "user", Description: "A user or guild member", Type: ParamUser, Greedy: true},
				},
				Guards:  []Guard{GuildOnly()},
				Slash:   true,
				Handler: g.whois,
			},
		),
		bot.AddCommand(
			&Command{
				Name:        "serverinfo",
				Description: "Show general info about the server",
				Guards:      []Guard{GuildOnly()},
				Slash:       true,
				Handler:     g.serverInfo,
			},
		),
		bot.AddCommand(
			&Command{
				Name:        "inviteinfo",
				Description: "Get information about a guilds invite",
				Params: []Param{
					{Name: "invite_code", Description: "A guilds invite or vanity", Required: true},
				},
				Slash:   true,
				Handler: g.inviteInfo,
			},
		),
		bot.AddCommand(
			&Command{
				Name:        "about",
				Description: "Shows info about the bot",
				Slash:       true,
				Handler:     g.about,
			},
		),
	)
}

// mentionResponder replies with the prefix to a guild message that's
// nothing but a mention of the bot
func (g *generalExtension) mentionResponder(ctx context.Context, event any) error {
	m, ok := event.(*discordgo.MessageCreate)
	if !ok || m.Message == nil || m.GuildID == "" {
		return nil
	}
	me := g.bot.User()
	if me == nil {
		return nil
	}
	if m.Content != "<@"+me.ID+">" && m.Content != "<@!"+me.ID+">" {
		return nil
	}
	embed := newEmbed("", fmt.Sprintf("Hello! My prefix is `%s`", g.bot.config.Prefixes[0]))
	_, err := g.bot.session.ChannelMessageSendComplex(
		m.ChannelID,
		&discordgo.MessageSend{
			Embeds:    []*discordgo.MessageEmbed{embed},
			Reference: m.Reference(),
		},
		discordgo.WithContext(ctx),
	)
	return err
}

func (g *generalExtension) cleanup(ctx context.Context, c *Context) error {
	amount, err := c.IntArg(0, cleanupDefault)
	if err != nil {
		return err
	}
	upper := cleanupMax
	if c.IsOwner() {
		upper = cleanupOwnerMax
	}
	amount = max(min(amount, upper), 1)

	c.Logger.DebugContext(ctx, "processing cleanup", "amount", amount)
	_ = c.Typing()

	me := g.bot.User()
	if me == nil {
		return errors.New("bot user not set")
	}
	bulk := false
	if perms, permErr := c.Session.UserChannelPermissions(me.ID, c.ChannelID); permErr == nil {
		bulk = perms&(discordgo.PermissionManageMessages|discordgo.PermissionAdministrator) != 0
	}
	prefixes := g.bot.Prefixes()

	removed, err := g.bot.purge(
		ctx, c.ChannelID, amount, bulk, func(m *discordgo.Message) bool {
			if m.Author != nil && m.Author.ID == me.ID {
				return true
			}
			if !bulk {
				return false
			}
			for _, p := range prefixes {
				if strings.HasPrefix(m.Content, p) {
					return true
				}
			}
			return false
		},
	)
	if err != nil {
		c.Logger.WarnContext(ctx, "cleanup failed", tint.Err(err), "removed", removed)
		_, sendErr := c.Send("I couldn't process this request. Please check my permissions.")
		return sendErr
	}
	_, err = c.SendTemporary(fmt.Sprintf("Removed %d messages.", removed), cleanupNoticeDelay)
	return err
}

// purge checks up to limit of the channel's most recent messages, and
// deletes the ones check accepts. With bulk set, messages young enough
// are removed with bulk deletes, and the rest one at a time.
func (s *Spork) purge(
	ctx context.Context,
	channelID string,
	limit int,
	bulk bool,
	check func(m *discordgo.Message) bool,
) (int, error) {
	var matched []*discordgo.Message
	before := ""
	for remaining := limit; remaining > 0; {
		page := min(remaining, discordBulkDeleteLimit)
		msgs, err := s.session.ChannelMessages(channelID, page, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return 0, err
		}
		for _, m := range msgs {
			if check(m) {
				matched = append(matched, m)
			}
		}
		if len(msgs) < page {
			break
		}
		remaining -= len(msgs)
		before = msgs[len(msgs)-1].ID
	}

	cutoff := s.now().Add(-discordBulkDeleteMaxAge)
	var recent []string
	var single []*discordgo.Message
	for _, m := range matched {
		if bulk && m.Timestamp.After(cutoff) {
			recent = append(recent, m.ID)
			continue
		}
		single = append(single, m)
	}

	deleted := 0
	for _, chunk := range chunkItems(discordBulkDeleteLimit, recent...) {
		var err error
		if len(chunk) == 1 {
			err = s.session.ChannelMessageDelete(channelID, chunk[0], discordgo.WithContext(ctx))
		} else {
			err = s.session.ChannelMessagesBulkDelete(channelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return deleted, err
		}
		deleted += len(chunk)
	}
	for _, m := range single {
		if err := s.session.ChannelMessageDelete(channelID, m.ID, discordgo.WithContext(ctx)); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return fmt.Sprintf("%s (%s)", discordTimestamp(t, "F"), discordTimestamp(t, "R"))
}

func (g *generalExtension) whois(ctx context.Context, c *Context) error {
	user, err := c.UserArg(0)
	if err != nil {
		return err
	}

	member, _ := c.Session.GuildMember(c.GuildID, user.ID, discordgo.WithContext(ctx))

	embed := newEmbed("", "")
	avatar := user.AvatarURL("")
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: avatar}
	embed.Author = &discordgo.MessageEmbedAuthor{Name: user.String(), IconURL: avatar}

	if spotify := g.spotifyActivity(c.GuildID, user.ID); spotify != nil {
		addField(
			embed,
			"Spotify",
			fmt.Sprintf(
				"Listening to **%s** by **%s** on **%s**",
				spotify.Details,
				strings.ReplaceAll(spotify.State, ";", ","),
				spotify.Assets.LargeText,
			),
			false,
		)
	}

	var joined time.Time
	var roles []string
	if member != nil {
		joined = member.JoinedAt
		roles = g.roleNames(c, member)
	}
	registered, _ := discordgo.SnowflakeTimestamp(user.ID)

	addField(embed, "Joined", formatDate(joined), false)
	addField(embed, "Registered", formatDate(registered), false)
	if len(roles) > 0 {
		value := strings.Join(roles, ", ")
		if len(roles) >= whoisMaxListedRoles {
			value = fmt.Sprintf("%d roles", len(roles))
		}
		addField(embed, "Roles", value, false)
	}

	if mutual, ok := g.mutualGuilds(user.ID); ok {
		addField(
			embed,
			"Mutual Servers",
			fmt.Sprintf("You are in `%s` servers with the bot!", groupThousands(int64(mutual))),
			false,
		)
	}

	date := g.bot.now()
	if c.Message != nil && !c.Message.Timestamp.IsZero() {
		date = c.Message.Timestamp
	}
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("User ID: %s | Date: %s", user.ID, date.Format("01/02/2006")),
	}
	_, err = c.SendEmbed(embed)
	return err
}

// roleNames returns the names of the member's roles, with @everyone
// first. Mentions in names are broken up.
func (g *generalExtension) roleNames(c *Context, member *discordgo.Member) []string {
	guild, err := c.Guild()
	if err != nil {
		return nil
	}
	byID := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, r := range guild.Roles {
		byID[r.ID] = r
	}
	names := []string{"@\u200beveryone"}
	for _, id := range member.Roles {
		if r, ok := byID[id]; ok {
			names = append(names, strings.ReplaceAll(r.Name, "@", "@\u200b"))
		}
	}
	return names
}

func (g *generalExtension) spotifyActivity(guildID, userID string) *discordgo.Activity {
	st := g.bot.session.State()
	if st == nil {
		return nil
	}
	presence, err := st.Presence(guildID, userID)
	if err != nil {
		return nil
	}
	for _, a := range presence.Activities {
		if a != nil && a.Type == discordgo.ActivityTypeListening && a.Name == "Spotify" {
			return a
		}
	}
	return nil
}

// mutualGuilds counts the cached guilds userID is a member of. It's false
// when there's no state cache.
func (g *generalExtension) mutualGuilds(userID string) (int, bool) {
	st := g.bot.session.State()
	if st == nil {
		return 0, false
	}
	st.RLock()
	guildIDs := make([]string, 0, len(st.Guilds))
	for _, guild := range st.Guilds {
		guildIDs = append(guildIDs, guild.ID)
	}
	st.RUnlock()

	count := 0
	for _, id := range guildIDs {
		if _, err := st.Member(id, userID); err == nil {
			count++
		}
	}
	return count, true
}

// fileSizeLimit is the upload limit, in bytes, for the guild's boost tier
func fileSizeLimit(tier discordgo.PremiumTier) int {
	switch tier {
	case discordgo.PremiumTier2:
		return 50 * mebibyte
	case discordgo.PremiumTier3:
		return 100 * mebibyte
	default:
		return 25 * mebibyte
	}
}

func (g *generalExtension) serverInfo(ctx context.Context, c *Context) error {
	guild, err := c.Guild()
	if err != nil {
		return err
	}
	now := g.bot.now()
	created, _ := discordgo.SnowflakeTimestamp(guild.ID)

	total := len(guild.Members)
	if total == 0 {
		total = guild.MemberCount
	}
	var bots, boosters int
	var lastBoost *discordgo.Member
	var owner string
	for _, m := range guild.Members {
		if m.User == nil {
			continue
		}
		if m.User.Bot {
			bots++
		}
		if m.User.ID == guild.OwnerID {
			owner = m.User.String()
		}
		if m.PremiumSince != nil {
			boosters++
			if lastBoost == nil || m.PremiumSince.After(*lastBoost.PremiumSince) {
				lastBoost = m
			}
		}
	}
	if owner == "" {
		owner = "<@" + guild.OwnerID + ">"
	}

	boost := "No active boosters"
	if lastBoost != nil {
		boost = fmt.Sprintf("\n%s\n╰ %s", lastBoost.User.String(), discordTimestamp(*lastBoost.PremiumSince, "R"))
	}

	embed := newEmbed(
		guild.Name,
		fmt.Sprintf("__%s__ %s are in this server!", groupThousands(int64(total)), plural("member", total)),
	)
	addField(
		embed,
		"Info",
		fmt.Sprintf(
			"**Owner:** %s\n**Role Count:** %s\n**File Size limit:** %s",
			owner,
			groupThousands(int64(len(guild.Roles))),
			groupThousands(int64(fileSizeLimit(guild.PremiumTier)/mebibyte)),
		),
		true,
	)
	addField(
		embed,
		"Boosts",
		fmt.Sprintf(
			"**Level:** %d | %s %s\n**Booster Count:** %s\n**Last Booster:** %s",
			guild.PremiumTier,
			groupThousands(int64(guild.PremiumSubscriptionCount)),
			plural("Boost", guild.PremiumSubscriptionCount),
			groupThousands(int64(boosters)),
			boost,
		),
		true,
	)
	addField(embed, "Graphics", guildGraphics(guild, true), true)
	addField(
		embed,
		"Members",
		fmt.Sprintf(
			"**Total:** %s %s (%s %s)\n**Member Limit:** %s",
			groupThousands(int64(total-bots)),
			plural("member", total),
			groupThousands(int64(bots)),
			plural("bot", bots),
			groupThousands(int64(guild.MaxMembers)),
		),
		true,
	)

	counts := map[discordgo.Status]int{}
	for _, p := range guild.Presences {
		counts[p.Status]++
	}
	counts[discordgo.StatusOffline] = max(
		total-counts[discordgo.StatusOnline]-counts[discordgo.StatusIdle]-counts[discordgo.StatusDoNotDisturb],
		0,
	)
	lines := make([]string, 0, len(statusEmoji))
	for _, s := range statusEmoji {
		lines = append(lines, fmt.Sprintf("%s %s: %s", s.emoji, s.label, groupThousands(int64(counts[s.status]))))
	}
	addField(embed, "Status Counts", strings.Join(lines, "\n"), true)

	if guild.Icon != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: discordgo.EndpointGuildIcon(guild.ID, guild.Icon)}
	}
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("The server is %s • Guild ID: %s", howOld(created, now), guild.ID),
	}
	_, err = c.SendEmbed(embed)
	return err
}

// inviteCode extracts the code from an invite link, or returns s as-is
func inviteCode(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func (g *generalExtension) inviteInfo(ctx context.Context, c *Context) error {
	code := inviteCode(c.Arg(0))
	invite, err := c.Session.InviteComplex(code, "", true, true, discordgo.WithContext(ctx))
	if err != nil || invite == nil {
		c.Logger.InfoContext(ctx, "error fetching invite", "code", code, tint.Err(err))
		_, err = c.Send("Could not get information about that invite.")
		return err
	}

	embed := &discordgo.MessageEmbed{Title: "Invite Information", Color: colorBlue}

	userInfo := "I could not fetch any user information, this could be due to a vanity invite."
	if inviter := invite.Inviter; inviter != nil {
		registered, _ := discordgo.SnowflakeTimestamp(inviter.ID)
		userInfo = fmt.Sprintf(
			"Name and ID: %s `(%s)`\nRegistered on %s",
			inviter.String(), inviter.ID, discordTimestamp(registered, "F"),
		)
	}
	addField(embed, "User Information", userInfo, true)

	if guild := invite.Guild; guild != nil {
		now := g.bot.now()
		created, _ := discordgo.SnowflakeTimestamp(guild.ID)

		vanity := ""
		if guild.VanityURLCode != "" {
			vanity = fmt.Sprintf(" (the vanity is %s)", guild.VanityURLCode)
		}
		embed.Description = fmt.Sprintf(
			"Invite information about [%s](https://discord.gg/%s)%s and has been used `%s` times.",
			invite.Code, invite.Code, vanity, groupThousands(int64(invite.Uses)),
		)

		if invite.ExpiresAt != nil {
			addField(embed, "The Invites Demise", formatDate(*invite.ExpiresAt), false)
		}

		description := guild.Description
		if description == "" {
			description = "No guild description found."
		}
		addField(embed, guild.Name+" Description", description, false)
		addField(
			embed,
			"Guild Created On",
			fmt.Sprintf("%s\n(That's %s!)", discordTimestamp(created, "F"), howOld(created, now)),
			true,
		)
		addField(embed, "Verification Level", verificationLevels[guild.VerificationLevel], true)
		addField(embed, "Graphics", guildGraphics(guild, false), true)

		if ch := invite.Channel; ch != nil {
			chCreated, _ := discordgo.SnowflakeTimestamp(ch.ID)
			addField(
				embed,
				"Invite Channel",
				fmt.Sprintf(
					"[#%s](https://discord.com/channels/%s/%s) `(%s)`\nCreated on %s",
					ch.Name, guild.ID, ch.ID, ch.ID, discordTimestamp(chCreated, "F"),
				),
				true,
			)
		}

		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%s | %s", guild.Name, guild.ID)}

		boosts := ":("
		if guild.PremiumSubscriptionCount != 0 {
			boosts = groupThousands(int64(guild.PremiumSubscriptionCount))
		}
		addField(
			embed,
			"Member Counts",
			fmt.Sprintf(
				"Users Online: `%s`\nMember Count: `%s`\nBooster Count: `%s`",
				groupThousands(int64(invite.ApproximatePresenceCount)),
				groupThousands(int64(invite.ApproximateMemberCount)),
				boosts,
			),
			true,
		)
	}

	_, err = c.SendEmbed(embed)
	return err
}

// cacheCounts returns the number of cached guilds, and of unique users
// across them
func (s *Spork) cacheCounts() (guilds int, users int) {
	st := s.session.State()
	if st == nil {
		return 0, 0
	}
	st.RLock()
	defer st.RUnlock()
	seen := map[string]struct{}{}
	for _, g := range st.Guilds {
		for _, m := range g.Members {
			if m.User != nil {
				seen[m.User.ID] = struct{}{}
			}
		}
	}
	return len(st.Guilds), len(seen)
}

func (g *generalExtension) about(ctx context.Context, c *Context) error {
	started := time.Now()
	_ = c.Typing()
	apiLatency := time.Since(started)

	s := g.bot
	uptime := s.Uptime()
	guilds, users := s.cacheCounts()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	embed := newEmbed("Statistics", "Running since "+discordTimestamp(s.StartedAt(), "F"))
	addField(
		embed,
		"Bot Information",
		fmt.Sprintf(
			"Total Guilds: `%s`\nTotal Users: `%s`\nTotal Seconds Running: `%ss`\nUptime: %s",
			groupThousands(int64(guilds)),
			groupThousands(int64(users)),
			groupThousands(int64(uptime.Seconds())),
			durafmt.Parse(uptime.Round(time.Second)).String(),
		),
		true,
	)
	addField(
		embed,
		"Host Information",
		fmt.Sprintf(
			"Memory Usage: `%.2f MiB`\nGoroutines: `%d`\nRunning on `%d` threads (%s/%s)",
			float64(mem.Sys)/mebibyte,
			runtime.NumGoroutine(),
			runtime.GOMAXPROCS(0),
			runtime.GOOS,
			runtime.GOARCH,
		),
		false,
	)
	addField(
		embed,
		"Latencies",
		fmt.Sprintf(
			"Latency: `%sms`\nAPI Latency: `%sms`",
			groupThousands(c.Session.HeartbeatLatency().Milliseconds()),
			groupThousands(apiLatency.Milliseconds()),
		),
		false,
	)
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Made in discordgo " + discordgo.VERSION}
	_, err := c.SendEmbed(embed)
	return err
}
