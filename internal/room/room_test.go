package room

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubl-proto/ubl/internal/ledger"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

const (
	testTenant = "t:ex.com"
	testRoom   = "r:general"
)

var alice = models.Identity{UserID: "u:alice", Email: "alice@ex.com", EmailDomain: "ex.com"}
var bob = models.Identity{UserID: "u:bob", Email: "bob@ex.com", EmailDomain: "ex.com"}

func newTestRoom(t *testing.T, st *store.MemoryStore, limits Limits) *Coordinator {
	t.Helper()
	ctx := context.Background()
	ledg, err := ledger.New(ctx, st, zerolog.Nop(), testTenant, ledger.DefaultShard, ledger.DefaultLimits)
	require.NoError(t, err)
	c, err := New(ctx, st, zerolog.Nop(), ledg, testTenant, testRoom, limits)
	require.NoError(t, err)
	return c
}

func initTestRoom(t *testing.T, c *Coordinator) {
	t.Helper()
	require.NoError(t, c.Init(context.Background(), "general", models.RoomModeInternal, alice, "req:init"))
}

func sendText(t *testing.T, c *Coordinator, text, clientRequestID string) *models.Message {
	t.Helper()
	msg, _, err := c.SendMessage(context.Background(), SendInput{
		Type:            models.MessageTypeText,
		Body:            models.MessageBody{Text: text},
		ClientRequestID: clientRequestID,
	}, alice, "req:"+clientRequestID)
	require.NoError(t, err)
	return msg
}

func TestInitBootstrapsSystemMessage(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestRoom(t, st, DefaultLimits)
	require.False(t, c.Initialized())

	initTestRoom(t, c)
	require.True(t, c.Initialized())

	messages, next, err := c.GetHistory(0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Zero(t, next)

	msg := messages[0]
	assert.Equal(t, int64(1), msg.RoomSeq)
	assert.Equal(t, models.MessageTypeSystem, msg.Type)
	assert.Equal(t, "Room created: general", msg.Body.Text)
	require.NotNil(t, msg.Receipt)
	assert.Equal(t, int64(1), msg.Receipt.Seq)

	// Action plus effect spans mirrored
	assert.Equal(t, 2, st.SpanCount(testTenant, ledger.DefaultShard))

	// Governance agreement recorded
	agreement, err := st.GetAgreement(context.Background(), models.RoomAgreementID(testRoom))
	require.NoError(t, err)
	require.NotNil(t, agreement)
	assert.Equal(t, models.AgreementRoomGovernance, agreement.Type)
}

func TestInitIsIdempotent(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)
	initTestRoom(t, c)

	messages, _, err := c.GetHistory(0, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSendUninitializedRoom(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	_, _, err := c.SendMessage(context.Background(), SendInput{
		Type: models.MessageTypeText,
		Body: models.MessageBody{Text: "hi"},
	}, alice, "req:1")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.NotFound))
}

func TestSendAssignsMonotonicRoomSeq(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)

	for i := 0; i < 3; i++ {
		msg := sendText(t, c, fmt.Sprintf("msg %d", i), fmt.Sprintf("k%d", i))
		assert.Equal(t, int64(i+2), msg.RoomSeq)
		require.NotNil(t, msg.Receipt)
	}
}

func TestSendReceiptIsActionReceipt(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestRoom(t, st, DefaultLimits)
	initTestRoom(t, c)

	msg := sendText(t, c, "hi", "k1")
	assert.Equal(t, int64(2), msg.RoomSeq)
	// Bootstrap consumed ledger seqs 1 and 2; this action is 3, its effect 4.
	assert.Equal(t, int64(3), msg.Receipt.Seq)
	assert.Equal(t, 4, st.SpanCount(testTenant, ledger.DefaultShard))
}

func TestIdempotentReplay(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestRoom(t, st, DefaultLimits)
	initTestRoom(t, c)

	first := sendText(t, c, "hi", "k1")
	spansAfterFirst := st.SpanCount(testTenant, ledger.DefaultShard)

	second, replayed, err := c.SendMessage(context.Background(), SendInput{
		Type:            models.MessageTypeText,
		Body:            models.MessageBody{Text: "hi"},
		ClientRequestID: "k1",
	}, alice, "req:retry")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.MsgID, second.MsgID)
	assert.Equal(t, first.RoomSeq, second.RoomSeq)
	assert.Equal(t, first.Receipt.Seq, second.Receipt.Seq)
	assert.Equal(t, spansAfterFirst, st.SpanCount(testTenant, ledger.DefaultShard))
}

func TestIdempotencyEvicted(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), Limits{HotLimit: 2, SeenLimit: 100, MaxMessageBytes: 8000})
	initTestRoom(t, c)

	sendText(t, c, "first", "k1")
	sendText(t, c, "second", "k2")
	sendText(t, c, "third", "k3") // evicts room_seq 1 and 2 from hot

	_, _, err := c.SendMessage(context.Background(), SendInput{
		Type:            models.MessageTypeText,
		Body:            models.MessageBody{Text: "first"},
		ClientRequestID: "k1",
	}, alice, "req:retry")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.IdempotencyEvicted))
}

func TestMessageTooLarge(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), Limits{HotLimit: 10, SeenLimit: 10, MaxMessageBytes: 64})
	initTestRoom(t, c)

	_, _, err := c.SendMessage(context.Background(), SendInput{
		Type: models.MessageTypeText,
		Body: models.MessageBody{Text: strings.Repeat("x", 200)},
	}, alice, "req:big")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.MessageTooLarge))
}

func TestValidateRejectsBadType(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)

	_, _, err := c.SendMessage(context.Background(), SendInput{
		Type: "image",
		Body: models.MessageBody{Text: "x"},
	}, alice, "req:bad")
	require.Error(t, err)
	assert.True(t, ublerr.IsKind(err, ublerr.ValidationError))
}

func TestFrictionlessAutoJoin(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)

	msg, _, err := c.SendMessage(context.Background(), SendInput{
		Type: models.MessageTypeText,
		Body: models.MessageBody{Text: "hello from bob"},
	}, bob, "req:bob")
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, msg.SenderID)

	cfg := c.Config()
	require.NotNil(t, cfg)
	assert.Equal(t, models.RoleMember, cfg.Members[bob.UserID].Role)
	assert.Equal(t, models.RoleOwner, cfg.Members[alice.UserID].Role)
}

func TestGetHistoryPaging(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)
	for i := 0; i < 9; i++ {
		sendText(t, c, fmt.Sprintf("msg %d", i), fmt.Sprintf("k%d", i))
	}
	// room_seq 1..10 in hot

	page, next, err := c.GetHistory(0, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, int64(7), page[0].RoomSeq)
	assert.Equal(t, int64(10), page[3].RoomSeq)
	assert.Equal(t, int64(7), next)

	page, next, err = c.GetHistory(next, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, int64(3), page[0].RoomSeq)
	assert.Equal(t, int64(3), next)

	page, next, err = c.GetHistory(next, 4)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].RoomSeq)
	assert.Zero(t, next)
}

func TestGetHistoryClampsLimit(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)

	_, _, err := c.GetHistory(0, 500)
	require.NoError(t, err)

	page, _, err := c.GetHistory(0, 0)
	require.NoError(t, err)
	assert.Len(t, page, 1) // default limit applies, only one message exists
}

func TestSubscribeReceivesLiveMessages(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)

	sub, backlog, err := c.Subscribe(-1)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)
	assert.Empty(t, backlog)

	msg := sendText(t, c, "live", "k1")

	ev := <-sub.Events()
	assert.Equal(t, EventMessageCreated, ev.Name)
	assert.Equal(t, msg.RoomSeq, ev.ID)
	data, ok := ev.Data.(MessageData)
	require.True(t, ok)
	assert.Equal(t, msg.MsgID, data.Message.MsgID)
}

func TestSubscribeReplaysFromSeq(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)
	sendText(t, c, "a", "k1") // seq 2
	sendText(t, c, "b", "k2") // seq 3

	sub, backlog, err := c.Subscribe(1)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)

	require.Len(t, backlog, 2)
	assert.Equal(t, int64(2), backlog[0].ID)
	assert.Equal(t, int64(3), backlog[1].ID)
}

func TestSubscribeEmitsGapBelowHotWindow(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), Limits{HotLimit: 5, SeenLimit: 100, MaxMessageBytes: 8000})
	initTestRoom(t, c)
	for i := 0; i < 9; i++ {
		sendText(t, c, fmt.Sprintf("msg %d", i), fmt.Sprintf("k%d", i))
	}
	// room_seq 1..10 sent; hot holds 6..10

	sub, backlog, err := c.Subscribe(1)
	require.NoError(t, err)
	defer c.Unsubscribe(sub)

	require.NotEmpty(t, backlog)
	gap := backlog[0]
	assert.Equal(t, EventRoomGap, gap.Name)
	gapData, ok := gap.Data.(GapData)
	require.True(t, ok)
	assert.Equal(t, int64(2), gapData.FromSeq)
	assert.Equal(t, int64(6), gapData.AvailableFrom)

	require.Len(t, backlog, 6) // gap + room_seq 6..10
	assert.Equal(t, int64(6), backlog[1].ID)
	assert.Equal(t, int64(10), backlog[5].ID)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	c := newTestRoom(t, store.NewMemoryStore(), DefaultLimits)
	initTestRoom(t, c)

	sub, _, err := c.Subscribe(-1)
	require.NoError(t, err)

	// Never drain: overflow the buffer and one more to trigger the drop
	for i := 0; i < subscriberBuffer+1; i++ {
		sendText(t, c, fmt.Sprintf("msg %d", i), fmt.Sprintf("k%d", i))
	}

	// The channel is closed once the subscriber is dropped
	var closed bool
	for i := 0; i < subscriberBuffer+2; i++ {
		if _, ok := <-sub.Events(); !ok {
			closed = true
			break
		}
	}
	assert.True(t, closed)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestRoom(t, st, DefaultLimits)
	initTestRoom(t, c)
	msg := sendText(t, c, "hi", "k1")

	reloaded := newTestRoom(t, st, DefaultLimits)
	require.True(t, reloaded.Initialized())

	messages, _, err := reloaded.GetHistory(0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, msg.MsgID, messages[1].MsgID)

	// The seen map survives too
	replay, replayed, err := reloaded.SendMessage(context.Background(), SendInput{
		Type:            models.MessageTypeText,
		Body:            models.MessageBody{Text: "hi"},
		ClientRequestID: "k1",
	}, alice, "req:retry")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, msg.MsgID, replay.MsgID)
}
