package auction_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"cipherbid/auction"
	"cipherbid/fhe"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	machine *auction.Machine
	cp      *fhe.MockCoprocessor

	mu     sync.Mutex
	events []auction.Event
}

func newHarness(t *testing.T, opts ...auction.MachineOption) *harness {
	t.Helper()
	cp, err := fhe.NewMockCoprocessor()
	require.NoError(t, err)
	return newHarnessWith(t, cp, opts...)
}

func newHarnessWith(t *testing.T, cp *fhe.MockCoprocessor, opts ...auction.MachineOption) *harness {
	t.Helper()
	h := &harness{cp: cp}
	sink := auction.EventSinkFunc(func(e auction.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
		return nil
	})
	base := []auction.MachineOption{auction.WithDecrypter(cp), auction.WithEventSink(sink)}
	m, err := auction.NewMachine(cp, append(base, opts...)...)
	require.NoError(t, err)
	h.machine = m
	return h
}

func (h *harness) create(t *testing.T, creator auction.Identity, minimumBid uint64) auction.ID {
	t.Helper()
	id, err := h.machine.Create(context.Background(), auction.CreateParams{
		Title:       "Watch",
		Description: "A fine watch",
		Category:    "Watches",
		MinimumBid:  minimumBid,
		Creator:     creator,
	}, t0)
	require.NoError(t, err)
	return id
}

func (h *harness) bid(t *testing.T, id auction.ID, bidder auction.Identity, payment, amount uint64, now time.Time) error {
	t.Helper()
	in, err := h.cp.Encrypt(context.Background(), amount, string(bidder))
	require.NoError(t, err)
	return h.machine.PlaceBid(context.Background(), auction.PlaceBidParams{
		AuctionID: id,
		Bidder:    bidder,
		Payment:   payment,
		Input:     in.Handle,
		Proof:     in.Proof,
		Comment:   "good luck",
	}, now)
}

func (h *harness) decrypt(t *testing.T, handle fhe.Handle) uint64 {
	t.Helper()
	v, err := h.cp.Decrypt(context.Background(), handle)
	require.NoError(t, err)
	return v
}

func (h *harness) eventTypes() []auction.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]auction.EventType, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t)
	for want := 1; want <= 5; want++ {
		id := h.create(t, "seller", 100)
		assert.Equal(t, auction.ID(want), id)
	}

	a, err := h.machine.Get(3)
	require.NoError(t, err)
	assert.True(t, a.IsOpen)
	assert.Equal(t, t0.Add(7*24*time.Hour), a.EndTime)
	assert.Equal(t, uint64(0), a.BidCount)
	assert.Equal(t, uint64(0), h.decrypt(t, a.HighestBid))
	assert.Equal(t, []auction.ID{1, 2, 3, 4, 5}, h.machine.ListByCreator("seller"))
	assert.Empty(t, h.machine.ListByCreator("nobody"))
}

func TestCreateValidation(t *testing.T) {
	valid := auction.CreateParams{
		Title:       "Watch",
		Description: "A fine watch",
		Category:    "Watches",
		MinimumBid:  100,
		Creator:     "seller",
	}

	tests := []struct {
		name   string
		mutate func(p *auction.CreateParams)
	}{
		{name: "最低出價為0", mutate: func(p *auction.CreateParams) { p.MinimumBid = 0 }},
		{name: "標題為空", mutate: func(p *auction.CreateParams) { p.Title = "" }},
		{name: "描述為空", mutate: func(p *auction.CreateParams) { p.Description = "" }},
		{name: "分類為空", mutate: func(p *auction.CreateParams) { p.Category = "" }},
		{name: "賣家為空", mutate: func(p *auction.CreateParams) { p.Creator = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := valid
			tt.mutate(&p)
			_, err := h.machine.Create(context.Background(), p, t0)
			assert.ErrorIs(t, err, auction.ErrInvalidArgument)
			assert.Equal(t, 0, h.machine.CountsSummary().Total)
		})
	}

	t.Run("失敗後編號不前進", func(t *testing.T) {
		h := newHarness(t)
		p := valid
		p.MinimumBid = 0
		_, err := h.machine.Create(context.Background(), p, t0)
		require.Error(t, err)
		assert.Equal(t, auction.ID(1), h.create(t, "seller", 100))
	})
}

func TestPlaceBidPreconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness) (auction.ID, func() error)
		want  *auction.Error
	}{
		{
			name: "拍賣不存在",
			setup: func(t *testing.T, h *harness) (auction.ID, func() error) {
				return 0, func() error { return h.bid(t, 42, "bob", 150, 150, t0) }
			},
			want: auction.ErrNotFound,
		},
		{
			name: "拍賣已結束",
			setup: func(t *testing.T, h *harness) (auction.ID, func() error) {
				id := h.create(t, "seller", 100)
				_, err := h.machine.Close(ctx, id, "seller", t0.Add(time.Hour))
				require.NoError(t, err)
				// 已結束優先於自我出價
				return id, func() error { return h.bid(t, id, "seller", 150, 150, t0.Add(2*time.Hour)) }
			},
			want: auction.ErrAuctionClosed,
		},
		{
			name: "超過截止時間",
			setup: func(t *testing.T, h *harness) (auction.ID, func() error) {
				id := h.create(t, "seller", 100)
				return id, func() error { return h.bid(t, id, "bob", 150, 150, t0.Add(auction.Duration)) }
			},
			want: auction.ErrAuctionExpired,
		},
		{
			name: "賣家不能出價",
			setup: func(t *testing.T, h *harness) (auction.ID, func() error) {
				id := h.create(t, "seller", 100)
				return id, func() error { return h.bid(t, id, "seller", 10, 150, t0) }
			},
			want: auction.ErrSelfBidForbidden,
		},
		{
			name: "重複出價優先於金額過低",
			setup: func(t *testing.T, h *harness) (auction.ID, func() error) {
				id := h.create(t, "seller", 100)
				require.NoError(t, h.bid(t, id, "bob", 150, 150, t0))
				return id, func() error { return h.bid(t, id, "bob", 1, 150, t0) }
			},
			want: auction.ErrDuplicateBid,
		},
		{
			name: "付款低於最低出價",
			setup: func(t *testing.T, h *harness) (auction.ID, func() error) {
				id := h.create(t, "seller", 100)
				return id, func() error { return h.bid(t, id, "bob", 99, 500, t0) }
			},
			want: auction.ErrBidTooLow,
		},
		{
			name: "證明綁定到其他身份",
			setup: func(t *testing.T, h *harness) (auction.ID, func() error) {
				id := h.create(t, "seller", 100)
				in, err := h.cp.Encrypt(ctx, 150, "mallory")
				require.NoError(t, err)
				return id, func() error {
					return h.machine.PlaceBid(ctx, auction.PlaceBidParams{
						AuctionID: id, Bidder: "bob", Payment: 150, Input: in.Handle, Proof: in.Proof,
					}, t0)
				}
			},
			want: auction.ErrInvalidProof,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id, place := tt.setup(t, h)

			before, _ := h.machine.BidCountOf(id)
			err := place()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var aerr *auction.Error
			require.ErrorAs(t, err, &aerr)
			assert.NotEmpty(t, aerr.Identity)

			after, _ := h.machine.BidCountOf(id)
			assert.Equal(t, before, after)
		})
	}
}

func TestScenarioA(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 100)
	require.Equal(t, auction.ID(1), id)

	require.NoError(t, h.bid(t, id, "bidderX", 150, 150, t0.Add(time.Minute)))
	count, err := h.machine.BidCountOf(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	err = h.bid(t, id, "bidderX", 200, 200, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, auction.ErrDuplicateBid)
	assert.Equal(t, auction.KindDuplicateBid, auction.KindOf(err))
}

func TestBidCountMatchesLedger(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 10)

	for i := 0; i < 6; i++ {
		require.NoError(t, h.bid(t, id, auction.Identity(fmt.Sprintf("bidder-%d", i)), 10, uint64(i*7), t0))
		count, err := h.machine.BidCountOf(id)
		require.NoError(t, err)
		bids, err := h.machine.BidsOf(id)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(bids)), count)
	}

	bids, _ := h.machine.BidsOf(id)
	for i, b := range bids {
		assert.Equal(t, auction.Identity(fmt.Sprintf("bidder-%d", i)), b.Bidder)
	}
	ok, err := h.machine.HasBid("bidder-3", id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.machine.HasBid("stranger", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectedBidLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 100)

	err := h.bid(t, id, "bob", 50, 500, t0)
	require.ErrorIs(t, err, auction.ErrBidTooLow)

	bids, err := h.machine.BidsOf(id)
	require.NoError(t, err)
	assert.Empty(t, bids)
	ok, _ := h.machine.HasBid("bob", id)
	assert.False(t, ok)
	assert.Equal(t, []auction.EventType{auction.EventAuctionCreated}, h.eventTypes())
}

func TestRunningMaximum(t *testing.T) {
	orders := [][]uint64{
		{30, 80, 50},
		{80, 30, 50},
		{50, 30, 80},
		{30, 50, 80},
	}

	for _, amounts := range orders {
		t.Run(fmt.Sprint(amounts), func(t *testing.T) {
			h := newHarness(t)
			id := h.create(t, "seller", 10)
			for _, amount := range amounts {
				bidder := auction.Identity(fmt.Sprintf("bidder-%d", amount))
				require.NoError(t, h.bid(t, id, bidder, 10, amount, t0))
			}

			a, err := h.machine.Get(id)
			require.NoError(t, err)
			assert.Equal(t, uint64(80), h.decrypt(t, a.HighestBid))

			s, err := h.machine.Close(context.Background(), id, "seller", t0.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, auction.Identity("bidder-80"), s.Winner)
		})
	}
}

func TestTiesKeepEarliestBidder(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 10)
	require.NoError(t, h.bid(t, id, "first", 10, 70, t0))
	require.NoError(t, h.bid(t, id, "second", 10, 70, t0))

	s, err := h.machine.Close(context.Background(), id, "seller", t0)
	require.NoError(t, err)
	assert.Equal(t, auction.Identity("first"), s.Winner)
}

func TestCloseAuthorization(t *testing.T) {
	t.Run("賣家可以提前結束", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "seller", 100)
		_, err := h.machine.Close(context.Background(), id, "seller", t0.Add(time.Hour))
		assert.NoError(t, err)
	})

	t.Run("其他人不能提前結束", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "seller", 100)
		_, err := h.machine.Close(context.Background(), id, "other", t0.Add(time.Hour))
		assert.ErrorIs(t, err, auction.ErrNotAuthorizedToClose)

		a, _ := h.machine.Get(id)
		assert.True(t, a.IsOpen)
	})

	t.Run("截止後任何人都能結束", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "seller", 100)
		require.NoError(t, h.bid(t, id, "bob", 120, 300, t0.Add(time.Hour)))

		s, err := h.machine.Close(context.Background(), id, "other", t0.Add(auction.Duration))
		require.NoError(t, err)
		assert.Equal(t, auction.Identity("bob"), s.Winner)
		assert.Equal(t, auction.Identity("seller"), s.Payee)
		assert.Equal(t, uint64(100), s.Amount)
	})

	t.Run("拍賣不存在", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.machine.Close(context.Background(), 1, "seller", t0)
		assert.ErrorIs(t, err, auction.ErrNotFound)
	})
}

func TestCloseTwiceTransfersOnce(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 100)
	require.NoError(t, h.bid(t, id, "bob", 100, 100, t0))
	require.NoError(t, h.bid(t, id, "carol", 250, 90, t0))

	_, err := h.machine.Close(context.Background(), id, "seller", t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h.machine.BalanceOf("seller"))

	for i := 0; i < 3; i++ {
		_, err = h.machine.Close(context.Background(), id, "seller", t0.Add(auction.Duration))
		assert.ErrorIs(t, err, auction.ErrAlreadyClosed)
	}
	assert.Equal(t, uint64(100), h.machine.BalanceOf("seller"))
}

func TestNoBidsAfterClose(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 100)
	_, err := h.machine.Close(context.Background(), id, "seller", t0)
	require.NoError(t, err)

	for _, bidder := range []auction.Identity{"bob", "carol"} {
		err := h.bid(t, id, bidder, 500, 500, t0.Add(time.Minute))
		assert.ErrorIs(t, err, auction.ErrAuctionClosed)
	}
	count, _ := h.machine.BidCountOf(id)
	assert.Equal(t, uint64(0), count)
}

func TestCloseWithoutBids(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 100)

	s, err := h.machine.Close(context.Background(), id, "seller", t0)
	require.NoError(t, err)
	assert.Empty(t, s.Winner)
	assert.Equal(t, uint64(0), s.Amount)
	assert.Equal(t, uint64(0), h.machine.BalanceOf("seller"))

	a, _ := h.machine.Get(id)
	assert.False(t, a.IsOpen)
	assert.Equal(t, t0, a.ClosedAt)
}

func TestCloseWithoutOracleReportsNoWinner(t *testing.T) {
	cp, err := fhe.NewMockCoprocessor()
	require.NoError(t, err)
	m, err := auction.NewMachine(cp)
	require.NoError(t, err)

	id, err := m.Create(context.Background(), auction.CreateParams{
		Title: "Lamp", Description: "Brass", Category: "Home", MinimumBid: 5, Creator: "seller",
	}, t0)
	require.NoError(t, err)
	in, err := cp.Encrypt(context.Background(), 9, "bob")
	require.NoError(t, err)
	require.NoError(t, m.PlaceBid(context.Background(), auction.PlaceBidParams{
		AuctionID: id, Bidder: "bob", Payment: 5, Input: in.Handle, Proof: in.Proof,
	}, t0))

	s, err := m.Close(context.Background(), id, "seller", t0)
	require.NoError(t, err)
	assert.Empty(t, s.Winner)
	assert.Equal(t, uint64(5), s.Amount)
}

func TestQuerySurface(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, "alice", 10)
	second := h.create(t, "bob", 10)
	h.create(t, "alice", 10)

	_, err := h.machine.Close(context.Background(), second, "bob", t0)
	require.NoError(t, err)

	open := h.machine.ListOpenNonExpired(t0.Add(time.Hour))
	require.Len(t, open, 2)
	assert.Equal(t, first, open[0].ID)
	assert.Empty(t, h.machine.ListOpenNonExpired(t0.Add(auction.Duration)))

	assert.Equal(t, auction.Summary{Total: 3, Open: 2}, h.machine.CountsSummary())
	assert.Equal(t, []auction.ID{1, 3}, h.machine.ListByCreator("alice"))

	_, err = h.machine.BidCountOf(9)
	assert.ErrorIs(t, err, auction.ErrNotFound)
	_, err = h.machine.HasBid("alice", 9)
	assert.ErrorIs(t, err, auction.ErrNotFound)
}

func TestEventsCarryNoAmounts(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 100)
	require.NoError(t, h.bid(t, id, "bob", 100, 777, t0))
	_, err := h.machine.Close(context.Background(), id, "seller", t0)
	require.NoError(t, err)

	require.Len(t, h.events, 3)
	placed := h.events[1]
	assert.Equal(t, auction.EventBidPlaced, placed.Type)
	assert.Equal(t, auction.Identity("bob"), placed.Identity)
	assert.Equal(t, uint64(0), placed.Amount)

	closed := h.events[2]
	assert.Equal(t, auction.EventAuctionClosed, closed.Type)
	assert.Equal(t, auction.Identity("bob"), closed.Winner)
	assert.Equal(t, uint64(100), closed.Amount)
}

func TestPersistenceFailureIsAllOrNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := auction.NewMockStore(ctrl)
	store.EXPECT().SaveAuction(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().SaveBid(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	store.EXPECT().SaveBid(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().SaveSettlement(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	h := newHarness(t, auction.WithStore(store))
	id := h.create(t, "seller", 100)
	before, err := h.machine.Get(id)
	require.NoError(t, err)

	err = h.bid(t, id, "bob", 100, 300, t0)
	require.ErrorIs(t, err, auction.ErrStorage)

	after, err := h.machine.Get(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	ok, _ := h.machine.HasBid("bob", id)
	assert.False(t, ok)

	// 失敗後可以重新出價
	require.NoError(t, h.bid(t, id, "bob", 100, 300, t0))

	_, err = h.machine.Close(context.Background(), id, "seller", t0)
	require.ErrorIs(t, err, auction.ErrStorage)
	a, _ := h.machine.Get(id)
	assert.True(t, a.IsOpen)
	assert.Equal(t, uint64(0), h.machine.BalanceOf("seller"))
	assert.Equal(t, []auction.EventType{auction.EventAuctionCreated, auction.EventBidPlaced}, h.eventTypes())
}

func TestEventSinkFailureDoesNotRollBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := auction.NewMockEventSink(ctrl)
	sink.EXPECT().Publish(gomock.Any()).Return(errors.New("stream down")).Times(2)

	h := newHarness(t, auction.WithEventSink(sink))
	id := h.create(t, "seller", 100)
	require.NoError(t, h.bid(t, id, "bob", 100, 300, t0))

	count, _ := h.machine.BidCountOf(id)
	assert.Equal(t, uint64(1), count)
}

func TestPrimitiveTimeout(t *testing.T) {
	cp, err := fhe.NewMockCoprocessor(fhe.WithLatency(200 * time.Millisecond))
	require.NoError(t, err)
	m, err := auction.NewMachine(cp, auction.WithCallTimeout(10*time.Millisecond))
	require.NoError(t, err)

	_, err = m.Create(context.Background(), auction.CreateParams{
		Title: "Lamp", Description: "Brass", Category: "Home", MinimumBid: 5, Creator: "seller",
	}, t0)
	assert.ErrorIs(t, err, auction.ErrPrimitiveUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, m.CountsSummary().Total)
}

func TestConcurrentBids(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "seller", 1)

	const n = 32
	inputs := make([]fhe.Input, n)
	for i := range inputs {
		in, err := h.cp.Encrypt(context.Background(), uint64(i), fmt.Sprintf("bidder-%d", i))
		require.NoError(t, err)
		inputs[i] = in
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- h.machine.PlaceBid(context.Background(), auction.PlaceBidParams{
				AuctionID: id,
				Bidder:    auction.Identity(fmt.Sprintf("bidder-%d", i)),
				Payment:   1,
				Input:     inputs[i].Handle,
				Proof:     inputs[i].Proof,
			}, t0)
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := h.machine.BidCountOf(id)
			if err == nil && count > n {
				errs <- fmt.Errorf("unexpected count %d", count)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	a, err := h.machine.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), a.BidCount)
	assert.Equal(t, uint64(n-1), h.decrypt(t, a.HighestBid))
}
