package spork

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"math"
	"math/rand"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const loggerContextKey contextKey = "logger"

type contextKey string

var (
	userMentionPattern    = regexp.MustCompile(`^<@!?(\d{15,21})>$`)
	channelMentionPattern = regexp.MustCompile(`^<#(\d{15,21})>$`)
	snowflakePattern      = regexp.MustCompile(`^\d{15,21}$`)
)

type number interface {
	~int | ~int64 | ~float64
}

// plural returns word, with an 's' appended unless n is exactly 1.
func plural[T number](word string, n T) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// pluralCount formats n followed by the correctly pluralized word,
// ex: "1 second", "2.5 seconds"
func pluralCount[T number](n T, word string) string {
	return fmt.Sprintf("%s %s", formatNumber(float64(n)), plural(word, n))
}

// formatNumber drops trailing zeroes, so 3.0 is "3" and 2.50 is "2.5"
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// floorHundredths truncates d to two decimal places of seconds
func floorHundredths(d time.Duration) float64 {
	return math.Floor(d.Seconds()*100) / 100
}

// groupThousands formats n with comma separators, ex: 1234567 -> "1,234,567"
func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// howOld describes the age of t, relative to now, in days and hours
func howOld(t time.Time, now time.Time) string {
	age := now.Sub(t)
	days := int64(age / (24 * time.Hour))
	hours := int64((age % (24 * time.Hour)) / time.Hour)
	return fmt.Sprintf(
		"%s days and %s hours old",
		groupThousands(days),
		groupThousands(hours),
	)
}

// discordTimestamp renders t as a discord timestamp markdown tag.
// Style is one of discord's format letters (ex: "F", "R", "d").
func discordTimestamp(t time.Time, style string) string {
	if style == "" {
		return fmt.Sprintf("<t:%d>", t.Unix())
	}
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

// parseUserID accepts a user mention or a raw snowflake, and returns
// the user ID.
func parseUserID(s string) (string, bool) {
	if m := userMentionPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if snowflakePattern.MatchString(s) {
		return s, true
	}
	return "", false
}

// parseChannelID accepts a channel mention or a raw snowflake
func parseChannelID(s string) (string, bool) {
	if m := channelMentionPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if snowflakePattern.MatchString(s) {
		return s, true
	}
	return "", false
}

// pastelColor returns a random, light embed colour
func pastelColor() int {
	return hsvToRGB(rand.Float64(), 0.28, 0.97)
}

func hsvToRGB(h, s, v float64) int {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return int(r*255)<<16 | int(g*255)<<8 | int(b*255)
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// chunkItems splits the input items into chunks of maxRowLength
func chunkItems[T any](maxRowLength int, items ...T) [][]T {
	var result [][]T
	for len(items) > 0 {
		end := maxRowLength
		if len(items) < maxRowLength {
			end = len(items)
		}
		result = append(result, items[:end])
		items = items[end:]
	}
	return result
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if jsonTag == "-" {
			continue
		}
		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		if logTag := field.Tag.Get("log"); logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip values that are nil or empty
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				continue
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				continue
			}
		case reflect.String:
			if fv.Len() == 0 {
				continue
			}
		}

		if lv, ok := fv.Interface().(slog.LogValuer); ok {
			groupAttrs = append(groupAttrs, slog.Attr{Key: jsonTag, Value: lv.LogValue()})
			continue
		}
		if lvl, ok := fv.Interface().(*slog.LevelVar); ok {
			groupAttrs = append(groupAttrs, slog.String(jsonTag, lvl.Level().String()))
			continue
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}
	return slog.GroupValue(groupAttrs...)
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

func messageLogAttrs(m *discordgo.Message) []any {
	attrs := []any{
		"id", m.ID,
		"channel_id", m.ChannelID,
	}
	if m.GuildID != "" {
		attrs = append(attrs, "guild_id", m.GuildID)
	}
	if m.Author != nil {
		attrs = append(attrs, slog.Group("author", "id", m.Author.ID, "username", m.Author.Username))
	}
	return attrs
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, "channel_id", i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, "guild_id", i.GuildID)
	}
	if i.AppID != "" {
		logAttrs = append(logAttrs, "app_id", i.AppID)
	}
	return logAttrs
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
