package cooldown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

func (c *manualClock) set(unix int64) { c.now = time.Unix(unix, 0) }

type fakeSession struct {
	mu         sync.Mutex
	deleted    []string
	dms        map[string][]string
	failDelete bool
	onDelete   func()
}

func (f *fakeSession) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	if f.onDelete != nil {
		f.onDelete()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errors.New("missing permissions")
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dms == nil {
		f.dms = make(map[string][]string)
	}
	f.dms[channelID] = append(f.dms[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

type setup struct {
	module  *Module
	store   *storage.Store
	clock   *manualClock
	session *fakeSession
}

func newSetup(t *testing.T) setup {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	clock := &manualClock{now: time.Unix(0, 0)}
	module := New(store, audit.NewLogger(store, zap.NewNop()), zap.NewNop(), Config{DefaultIgnoreBot: true, DefaultSendDM: true}).WithClock(clock)
	return setup{module: module, store: store, clock: clock, session: &fakeSession{}}
}

var category = &discordgo.Channel{ID: "cat", Name: "General", GuildID: "g1", Type: discordgo.ChannelTypeGuildCategory}

func message(id, channelID, userID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		GuildID:   "g1",
		ChannelID: channelID,
		Author:    &discordgo.User{ID: userID, Username: "name-" + userID},
		Member:    &discordgo.Member{},
	}
}

func inChannel() MessageContext {
	return MessageContext{OwnerID: "owner"}
}

func TestChannelGateWindow(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))

	s.clock.set(0)
	res := s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), inChannel())
	assert.Equal(t, VerdictRecorded, res.Channel)

	s.clock.set(30)
	res = s.module.HandleMessage(ctx, s.session, message("m2", "c1", "u1"), inChannel())
	assert.Equal(t, VerdictDeleted, res.Channel)
	assert.True(t, res.Deleted())
	assert.Equal(t, []string{"m2"}, s.session.deleted)
	require.Len(t, s.session.dms["dm-u1"], 1)
	assert.Equal(t, "Sorry name-u1, this channel is ratelimited! You'll be able to post again in <#c1> in 30 seconds.", s.session.dms["dm-u1"][0])

	s.clock.set(60)
	res = s.module.HandleMessage(ctx, s.session, message("m3", "c1", "u1"), inChannel())
	assert.Equal(t, VerdictDeleted, res.Channel)

	s.clock.set(61)
	res = s.module.HandleMessage(ctx, s.session, message("m4", "c1", "u1"), inChannel())
	assert.Equal(t, VerdictAllowed, res.Channel)

	// a deleted message never moves the window
	last, ok, err := s.store.GetCooldownTimestamp(ctx, "g1", storage.ScopeChannel, "c1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(61), last.Unix())
}

func TestUsersAreTrackedSeparately(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))

	s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), inChannel())
	res := s.module.HandleMessage(ctx, s.session, message("m2", "c1", "u2"), inChannel())
	assert.Equal(t, VerdictRecorded, res.Channel)

	res = s.module.HandleMessage(ctx, s.session, message("m3", "c2", "u1"), inChannel())
	assert.Equal(t, VerdictNone, res.Channel)
	assert.False(t, res.Skipped)
}

func TestCategoryGateIsIndependent(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddCategory(ctx, "g1", category, []string{"c1", "c2"}, 10*time.Second))
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Hour))

	mc := MessageContext{Category: category, OwnerID: "owner"}
	res := s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), mc)
	assert.Equal(t, VerdictRecorded, res.Channel)
	assert.Equal(t, VerdictRecorded, res.Category)

	// the category window covers its sibling channel too
	s.clock.set(5)
	res = s.module.HandleMessage(ctx, s.session, message("m2", "c2", "u1"), mc)
	assert.Equal(t, VerdictNone, res.Channel)
	assert.Equal(t, VerdictDeleted, res.Category)
	assert.Contains(t, s.session.dms["dm-u1"][0], "in General in 5 seconds")

	// the channel gate deletes first; the category gate does not delete twice
	s.clock.set(20)
	res = s.module.HandleMessage(ctx, s.session, message("m3", "c1", "u1"), mc)
	assert.Equal(t, VerdictDeleted, res.Channel)
	assert.Equal(t, VerdictAllowed, res.Category)

	s.clock.set(25)
	res = s.module.HandleMessage(ctx, s.session, message("m4", "c1", "u1"), mc)
	assert.Equal(t, VerdictDeleted, res.Channel)
	assert.Equal(t, VerdictAlreadyGone, res.Category)
	assert.Equal(t, []string{"m2", "m3", "m4"}, s.session.deleted)
}

func TestCategorySnapshotLimitsGate(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddCategory(ctx, "g1", category, []string{"c1"}, time.Minute))

	mc := MessageContext{Category: category}
	res := s.module.HandleMessage(ctx, s.session, message("m1", "c-new", "u1"), mc)
	assert.Equal(t, VerdictNone, res.Category)

	require.NoError(t, s.module.UpdateCategory(ctx, "g1", "cat", []string{"c1", "c-new"}))
	res = s.module.HandleMessage(ctx, s.session, message("m2", "c-new", "u1"), mc)
	assert.Equal(t, VerdictRecorded, res.Category)
}

func TestIgnoredAuthorsSkipGates(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))

	bot := message("m1", "c1", "b1")
	bot.Author.Bot = true
	assert.True(t, s.module.HandleMessage(ctx, s.session, bot, inChannel()).Skipped)

	require.NoError(t, s.module.SetIgnoreBot(ctx, "g1", "admin", false))
	assert.Equal(t, VerdictRecorded, s.module.HandleMessage(ctx, s.session, bot, inChannel()).Channel)

	report, err := s.module.AddIgnoredUsers(ctx, "g1", []*discordgo.User{{ID: "u1"}, {ID: "b2", Bot: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, report.Changed)
	assert.Equal(t, []string{"b2"}, report.Bots)
	assert.True(t, s.module.HandleMessage(ctx, s.session, message("m2", "c1", "u1"), inChannel()).Skipped)

	_, err = s.module.AddIgnoredRoles(ctx, "g1", []string{"r-staff"})
	require.NoError(t, err)
	staff := message("m3", "c1", "u2")
	staff.Member.Roles = []string{"r-other", "r-staff"}
	assert.True(t, s.module.HandleMessage(ctx, s.session, staff, inChannel()).Skipped)

	nonGuild := message("m4", "c1", "u3")
	nonGuild.GuildID = ""
	assert.True(t, s.module.HandleMessage(ctx, s.session, nonGuild, inChannel()).Skipped)
}

func TestIgnoreListReports(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	report, err := s.module.AddIgnoredUsers(ctx, "g1", []*discordgo.User{{ID: "u1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, report.Changed)

	report, err = s.module.AddIgnoredUsers(ctx, "g1", []*discordgo.User{{ID: "u1"}, {ID: "u2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, report.Changed)
	assert.Equal(t, []string{"u1"}, report.Unchanged)

	report, err = s.module.RemoveIgnoredUsers(ctx, "g1", []string{"u1", "u3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, report.Changed)
	assert.Equal(t, []string{"u3"}, report.Unchanged)

	users, err := s.module.ListIgnoredUsers(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)
}

func TestRegistryErrors(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.module.AddChannel(ctx, "g1", "c1", 0), ErrZeroDuration)
	assert.ErrorIs(t, s.module.AddChannel(ctx, "g1", "c1", 500*time.Millisecond), ErrZeroDuration)
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Second))
	assert.ErrorIs(t, s.module.AddChannel(ctx, "g1", "c1", time.Second), ErrAlreadyRegistered)
	assert.ErrorIs(t, s.module.EditChannel(ctx, "g1", "c2", time.Second), ErrNotRegistered)
	assert.ErrorIs(t, s.module.DeleteChannel(ctx, "g1", "c2"), ErrNotRegistered)
	require.NoError(t, s.module.DeleteChannel(ctx, "g1", "c1"))

	text := &discordgo.Channel{ID: "c9", Type: discordgo.ChannelTypeGuildText}
	assert.ErrorIs(t, s.module.AddCategory(ctx, "g1", text, nil, time.Second), ErrNotCategory)
	assert.ErrorIs(t, s.module.EditCategory(ctx, "g1", "cat", time.Second), ErrNotRegistered)
	assert.ErrorIs(t, s.module.UpdateCategory(ctx, "g1", "cat", nil), ErrNotRegistered)
	assert.ErrorIs(t, s.module.DeleteCategory(ctx, "g1", "cat"), ErrNotRegistered)
}

func TestEditResetsTimestamps(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))
	require.NoError(t, s.module.AddCategory(ctx, "g1", category, []string{"c1"}, time.Minute))

	mc := MessageContext{Category: category}
	s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), mc)

	require.NoError(t, s.module.EditChannel(ctx, "g1", "c1", time.Hour))
	require.NoError(t, s.module.EditCategory(ctx, "g1", "cat", time.Hour))

	s.clock.set(1)
	res := s.module.HandleMessage(ctx, s.session, message("m2", "c1", "u1"), mc)
	assert.Equal(t, VerdictRecorded, res.Channel)
	assert.Equal(t, VerdictRecorded, res.Category)

	entry, ok, err := s.store.GetCooldownCategory(ctx, "g1", "cat")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3600), entry.Seconds)
	assert.Equal(t, []string{"c1"}, entry.Channels)
}

func TestBypass(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))

	assert.ErrorIs(t, s.module.BypassChannel(ctx, "g1", "c2", "u1"), ErrNotRegistered)
	assert.ErrorIs(t, s.module.BypassChannel(ctx, "g1", "c1", "u1"), ErrNotOnCooldown)
	assert.ErrorIs(t, s.module.BypassCategory(ctx, "g1", "cat", "u1"), ErrNotRegistered)

	s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), inChannel())
	require.NoError(t, s.module.BypassChannel(ctx, "g1", "c1", "u1"))

	s.clock.set(5)
	res := s.module.HandleMessage(ctx, s.session, message("m2", "c1", "u1"), inChannel())
	assert.Equal(t, VerdictRecorded, res.Channel)
}

func TestDeleteFailureNotifiesOwnerOnce(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	s.session.failDelete = true
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))
	require.NoError(t, s.module.SetSendDM(ctx, "g1", "admin", false))

	s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), inChannel())
	for i, id := range []string{"m2", "m3"} {
		s.clock.set(int64(i + 1))
		res := s.module.HandleMessage(ctx, s.session, message(id, "c1", "u1"), inChannel())
		assert.Equal(t, VerdictDeleteFailed, res.Channel)
		assert.False(t, res.Deleted())
	}
	require.Len(t, s.session.dms["dm-owner"], 1)
	assert.Contains(t, s.session.dms["dm-owner"][0], "unable to delete the last message")
	assert.Empty(t, s.session.dms["dm-u1"])

	require.NoError(t, s.module.ResetGuild(ctx, "g1", "admin", "owner"))
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))
	require.NoError(t, s.module.SetSendDM(ctx, "g1", "admin", false))
	s.clock.set(3)
	s.module.HandleMessage(ctx, s.session, message("m4", "c1", "u1"), inChannel())
	s.clock.set(4)
	res := s.module.HandleMessage(ctx, s.session, message("m5", "c1", "u1"), inChannel())
	assert.Equal(t, VerdictDeleteFailed, res.Channel)
	assert.Len(t, s.session.dms["dm-owner"], 2)
}

func TestCustomTemplates(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", 2*time.Minute))

	reset, err := s.module.SetChannelMessage(ctx, "g1", "admin", "Slow down {member}, {time} left in {channel}.")
	require.NoError(t, err)
	assert.False(t, reset)

	s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), inChannel())
	s.clock.set(55)
	s.module.HandleMessage(ctx, s.session, message("m2", "c1", "u1"), inChannel())
	assert.Equal(t, []string{"Slow down name-u1, 1 minute, 5 seconds left in <#c1>."}, s.session.dms["dm-u1"])

	reset, err = s.module.SetChannelMessage(ctx, "g1", "admin", "None")
	require.NoError(t, err)
	assert.True(t, reset)
	settings, err := s.module.Settings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, DefaultChannelMessage, ChannelMessage(settings))
	assert.Equal(t, DefaultCategoryMessage, CategoryMessage(settings))
}

func TestSyncChannel(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	other := &discordgo.Channel{ID: "cat2", GuildID: "g1", Type: discordgo.ChannelTypeGuildCategory}
	require.NoError(t, s.module.AddCategory(ctx, "g1", category, []string{"c1"}, time.Minute))
	require.NoError(t, s.module.AddCategory(ctx, "g1", other, nil, time.Minute))
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))

	created := &discordgo.Channel{ID: "c2", GuildID: "g1", ParentID: "cat", Type: discordgo.ChannelTypeGuildText}
	require.NoError(t, s.module.SyncChannel(ctx, created, false))
	entry, _, err := s.store.GetCooldownCategory(ctx, "g1", "cat")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, entry.Channels)

	moved := &discordgo.Channel{ID: "c2", GuildID: "g1", ParentID: "cat2", Type: discordgo.ChannelTypeGuildText}
	require.NoError(t, s.module.SyncChannel(ctx, moved, false))
	entry, _, err = s.store.GetCooldownCategory(ctx, "g1", "cat")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, entry.Channels)
	entry, _, err = s.store.GetCooldownCategory(ctx, "g1", "cat2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, entry.Channels)

	gone := &discordgo.Channel{ID: "c1", GuildID: "g1", ParentID: "cat", Type: discordgo.ChannelTypeGuildText}
	require.NoError(t, s.module.SyncChannel(ctx, gone, true))
	_, ok, err := s.store.GetCooldownChannel(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	entry, _, err = s.store.GetCooldownCategory(ctx, "g1", "cat")
	require.NoError(t, err)
	assert.Empty(t, entry.Channels)

	require.NoError(t, s.module.SyncChannel(ctx, other, true))
	categories, err := s.module.ListCategories(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "cat", categories[0].TargetID)
}

func TestResetGuild(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))
	require.NoError(t, s.module.SetSendDM(ctx, "g1", "admin", false))

	require.NoError(t, s.module.ResetGuild(ctx, "g1", "admin", "owner"))
	channels, err := s.module.ListChannels(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, channels)
	settings, err := s.module.Settings(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, settings.SendDM)
}

func TestConcurrentAddChannelRegistersOnce(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		taken int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.module.AddChannel(ctx, "g1", "c1", time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyRegistered):
				taken++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, taken)
}

func TestDeletionDoesNotHoldGuildLock(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	require.NoError(t, s.module.AddChannel(ctx, "g1", "c1", time.Minute))
	require.NoError(t, s.module.SetSendDM(ctx, "g1", "admin", false))
	s.module.HandleMessage(ctx, s.session, message("m1", "c1", "u1"), inChannel())

	other := make(chan Result, 1)
	s.session.onDelete = func() {
		go func() {
			other <- s.module.HandleMessage(ctx, s.session, message("m9", "c1", "u2"), inChannel())
		}()
		select {
		case res := <-other:
			other <- res
		case <-time.After(2 * time.Second):
		}
	}

	s.clock.set(5)
	res := s.module.HandleMessage(ctx, s.session, message("m2", "c1", "u1"), inChannel())
	assert.Equal(t, VerdictDeleted, res.Channel)

	select {
	case res := <-other:
		assert.Equal(t, VerdictRecorded, res.Channel)
	default:
		t.Fatal("second message did not finish while the first was being deleted")
	}
}
