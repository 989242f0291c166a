package spork

import (
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestCooldownMapping_Update(t *testing.T) {
	t.Parallel()
	m := NewCooldownMapping(Cooldown{Rate: 1, Per: 5 * time.Second, Bucket: BucketUser})
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, m.Update(testUserID, start))
	assert.Equal(t, 3*time.Second, m.Update(testUserID, start.Add(2*time.Second)))

	// a rejected invocation doesn't push the next one back
	assert.Equal(t, 2*time.Second, m.Update(testUserID, start.Add(3*time.Second)))

	assert.Zero(t, m.Update(testGuildOwnerID, start.Add(2*time.Second)))
	assert.Equal(t, 2, m.Len())

	assert.Zero(t, m.Update(testUserID, start.Add(5*time.Second+time.Millisecond)))

	m.Reset(testUserID)
	assert.Equal(t, 1, m.Len())
	assert.Zero(t, m.Update(testUserID, start.Add(6*time.Second)))
}

func TestCooldownMapping_Rate(t *testing.T) {
	t.Parallel()
	m := NewCooldownMapping(Cooldown{Rate: 3, Per: 30 * time.Second, Bucket: BucketChannel})
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		assert.Zero(t, m.Update(testChannelID, start), "use %d", i)
	}
	assert.Equal(t, 10*time.Second, m.Update(testChannelID, start))
	assert.Equal(t, 9*time.Second, m.Update(testChannelID, start.Add(time.Second)))
}

func TestCooldown_Key(t *testing.T) {
	t.Parallel()
	c := &Context{
		Author:    &discordgo.User{ID: testUserID},
		GuildID:   testGuildID,
		ChannelID: testChannelID,
	}
	dm := &Context{
		Author:    &discordgo.User{ID: testUserID},
		ChannelID: testChannelID,
	}

	assert.Equal(t, testUserID, Cooldown{Bucket: BucketUser}.key(c))
	assert.Equal(t, testGuildID, Cooldown{Bucket: BucketGuild}.key(c))
	assert.Equal(t, testChannelID, Cooldown{Bucket: BucketGuild}.key(dm))
	assert.Equal(t, testChannelID, Cooldown{Bucket: BucketChannel}.key(c))
	assert.Equal(t, "", Cooldown{Bucket: BucketGlobal}.key(c))

	assert.Equal(t, "1 per 5s per user", Cooldown{Rate: 1, Per: 5 * time.Second}.String())
}
