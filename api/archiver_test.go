package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisAdapter "cipherbid/adapters/redis"
	"cipherbid/auction"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    map[string]bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: make(map[string][]byte), fail: make(map[string]bool)}
}

func (u *fakeUploader) Upload(_ context.Context, name, contentType string, r io.Reader) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail[name] {
		return "", errors.New("bucket unavailable")
	}
	if contentType != "application/json" {
		return "", errors.New("unexpected content type")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.objects[name] = body
	return "https://cdn.example.com/receipts/" + name + ".json", nil
}

func (u *fakeUploader) receipt(name string) (Receipt, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	body, ok := u.objects[name]
	if !ok {
		return Receipt{}, false
	}
	var r Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return Receipt{}, false
	}
	return r, true
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.objects)
}

func TestArchiver_Archive(t *testing.T) {
	uploader := newFakeUploader()
	lookup := func(id auction.ID) (auction.Auction, error) {
		if id != 7 {
			return auction.Auction{}, auction.ErrNotFound
		}
		return auction.Auction{ID: 7, Title: "Watch", Category: "Watches", Creator: "seller", BidCount: 3}, nil
	}
	archiver, err := NewArchiver(&redisAdapter.GroupConsumer[auction.Event]{}, uploader,
		WithArchiverLogger(discard),
		WithArchiverLookup(lookup),
	)
	require.NoError(t, err)

	event := auction.Event{
		Type:      auction.EventAuctionClosed,
		AuctionID: 7,
		Identity:  "seller",
		Winner:    "bob",
		Amount:    120,
		Time:      t0,
	}

	t.Run("帶上拍賣資訊", func(t *testing.T) {
		receipt, err := archiver.Archive(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/receipts/7.json", receipt.URL)

		stored, ok := uploader.receipt("7")
		require.True(t, ok)
		assert.Equal(t, "Watch", stored.Title)
		assert.Equal(t, auction.Identity("seller"), stored.Seller)
		assert.Equal(t, auction.Identity("bob"), stored.Winner)
		assert.Equal(t, uint64(120), stored.Transferred)
		assert.Equal(t, uint64(3), stored.BidCount)
		assert.True(t, stored.ClosedAt.Equal(t0))
		assert.Empty(t, stored.URL)
	})

	t.Run("找不到拍賣仍然封存", func(t *testing.T) {
		other := event
		other.AuctionID = 8
		receipt, err := archiver.Archive(context.Background(), other)
		require.NoError(t, err)
		assert.Empty(t, receipt.Title)
		assert.Equal(t, auction.Identity("bob"), receipt.Winner)
	})

	t.Run("上傳失敗", func(t *testing.T) {
		uploader.fail["9"] = true
		other := event
		other.AuctionID = 9
		_, err := archiver.Archive(context.Background(), other)
		assert.Error(t, err)
	})
}

func TestNewArchiver(t *testing.T) {
	_, err := NewArchiver(nil, newFakeUploader())
	assert.Error(t, err)
	_, err = NewArchiver(&redisAdapter.GroupConsumer[auction.Event]{}, nil)
	assert.Error(t, err)
}

func TestArchiver_ConsumesSettlements(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	const stream = "cipherbid:events"
	publish := func(event auction.Event) {
		values, err := redisAdapter.EncodeMessage(event)
		require.NoError(t, err)
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err())
	}
	publish(auction.Event{Type: auction.EventAuctionCreated, AuctionID: 1, Identity: "seller", Time: t0})
	publish(auction.Event{Type: auction.EventBidPlaced, AuctionID: 1, Identity: "bob", Time: t0})
	publish(auction.Event{Type: auction.EventAuctionClosed, AuctionID: 1, Identity: "seller", Winner: "bob", Amount: 100, Time: t0})
	publish(auction.Event{Type: auction.EventAuctionClosed, AuctionID: 2, Identity: "seller", Time: t0})

	consumer, err := redisAdapter.NewGroupConsumer[auction.Event](client, stream, "receipts", "worker-1",
		redisAdapter.WithGroupConsumerLogger[auction.Event](discard),
		redisAdapter.WithGroupConsumerBlockTimeout[auction.Event](50*time.Millisecond),
	)
	require.NoError(t, err)
	uploader := newFakeUploader()
	uploader.fail["2"] = true

	archiver, err := NewArchiver(consumer, uploader, WithArchiverLogger(discard))
	require.NoError(t, err)
	require.NoError(t, archiver.Start())

	// 最後一筆會進死信，之後所有消息都應該已經確認
	assert.Eventually(t, func() bool {
		if !mr.Exists(stream + ":dead-letter") {
			return false
		}
		pending, err := client.XPending(ctx, stream, "receipts").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond)
	archiver.Close()

	assert.Equal(t, 1, uploader.count())
	receipt, ok := uploader.receipt("1")
	require.True(t, ok)
	assert.Equal(t, auction.Identity("bob"), receipt.Winner)
	assert.Equal(t, uint64(100), receipt.Transferred)

	dead, err := mr.Stream(stream + ":dead-letter")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Values, "bucket unavailable")
}

type blockingUploader struct{}

func (blockingUploader) Upload(ctx context.Context, _, _ string, _ io.Reader) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestArchiver_UploadTimeout(t *testing.T) {
	archiver, err := NewArchiver(&redisAdapter.GroupConsumer[auction.Event]{}, blockingUploader{},
		WithArchiverLogger(discard),
		WithArchiverTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	start := time.Now()
	_, err = archiver.Archive(context.Background(), auction.Event{Type: auction.EventAuctionClosed, AuctionID: 1, Time: t0})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
