package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitFees(t *testing.T) {
	split := SplitFees(10000, 250, 500) // 2.5% platform, 5% royalty

	assert.Equal(t, int64(250), split.PlatformFee)
	assert.Equal(t, int64(500), split.Royalty)
	assert.Equal(t, int64(9250), split.SellerNet)
	assert.Equal(t, split.Price, split.PlatformFee+split.Royalty+split.SellerNet)
}

func TestSplitFees_RemainderStaysWithSeller(t *testing.T) {
	// 333 * 250 / 10000 truncates; the lost fraction must not leak.
	split := SplitFees(333, 250, 100)

	assert.Equal(t, split.Price, split.PlatformFee+split.Royalty+split.SellerNet)
	assert.Equal(t, int64(8), split.PlatformFee)
	assert.Equal(t, int64(3), split.Royalty)
}

func TestSplitFees_ZeroBps(t *testing.T) {
	split := SplitFees(500, 0, 0)

	assert.Equal(t, int64(0), split.PlatformFee)
	assert.Equal(t, int64(0), split.Royalty)
	assert.Equal(t, int64(500), split.SellerNet)
}

func TestEvent_HasValidator(t *testing.T) {
	event := &Event{Validators: []string{"VAL1", "VAL2"}}

	assert.True(t, event.HasValidator("VAL1"))
	assert.False(t, event.HasValidator("VAL3"))
	assert.False(t, (&Event{}).HasValidator("VAL1"))
}

func TestEvent_Tier(t *testing.T) {
	event := &Event{Tiers: []TicketTier{{Name: "General", Price: 3000, Maximum: 100}}}

	tier := event.Tier(0)
	assert.NotNil(t, tier)
	assert.Equal(t, "General", tier.Name)

	assert.Nil(t, event.Tier(1))
	assert.Nil(t, event.Tier(-1))
}

func TestEvent_SalesOpen(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	event := &Event{SalesStart: start, SalesEnd: end}

	assert.False(t, event.SalesOpen(start.Add(-time.Minute)))
	assert.True(t, event.SalesOpen(start))
	assert.True(t, event.SalesOpen(start.Add(time.Hour)))
	assert.False(t, event.SalesOpen(end))

	event.Canceled = true
	assert.False(t, event.SalesOpen(start.Add(time.Hour)))
}

func TestTicketState_Terminal(t *testing.T) {
	assert.False(t, TicketMinted.Terminal())
	assert.False(t, TicketListed.Terminal())
	assert.True(t, TicketRedeemed.Terminal())
	assert.True(t, TicketRefundedBurned.Terminal())
}

func TestSessionState_Terminal(t *testing.T) {
	assert.False(t, SessionCreating.Terminal())
	assert.False(t, SessionPending.Terminal())

	for _, s := range []SessionState{SessionPaid, SessionExpired, SessionCanceled, SessionRejected} {
		assert.True(t, s.Terminal(), "state %s", s)
	}
}

func TestDecodeMetadata_FullDocument(t *testing.T) {
	raw := []byte(`{
		"name": "Summer Fest",
		"description": "Open air",
		"category": "music",
		"tags": ["outdoor", "festival"],
		"image": "ipfs://abc",
		"organizer": "Fest Co",
		"location": {"venue": "Main Park", "city": "Vientiane"},
		"date_time": {"start": "2025-07-01T18:00:00Z", "timezone": "Asia/Vientiane"}
	}`)

	md := DecodeMetadata(raw)

	assert.Equal(t, "Summer Fest", md.Name)
	assert.Equal(t, []string{"outdoor", "festival"}, md.Tags)
	assert.Equal(t, "Main Park", md.Location.Venue)
	assert.Equal(t, "Asia/Vientiane", md.DateTime.Timezone)
}

func TestDecodeMetadata_ToleratesAbsenceAndWrongTypes(t *testing.T) {
	md := DecodeMetadata([]byte(`{"name": 42, "tags": "not-a-list", "location": "nope"}`))

	assert.Equal(t, "", md.Name)
	assert.Nil(t, md.Tags)
	assert.Equal(t, "", md.Location.Venue)

	md = DecodeMetadata([]byte(`not json at all`))
	assert.Equal(t, "", md.Name)

	md = DecodeMetadata(nil)
	assert.Equal(t, "", md.Name)
}
