package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cipherbid/fhe"
)

type machineOptions struct {
	store       Store
	sinks       []EventSink
	oracle      fhe.Decrypter
	callTimeout time.Duration
	logger      *slog.Logger
}

type MachineOption func(*machineOptions)

// WithStore 設置持久層，預設不持久化
func WithStore(store Store) MachineOption {
	return func(o *machineOptions) {
		o.store = store
	}
}

// WithEventSink 追加事件接收者
func WithEventSink(sinks ...EventSink) MachineOption {
	return func(o *machineOptions) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithDecrypter 設置結算時用來解出得標者的授權解密預言機
func WithDecrypter(oracle fhe.Decrypter) MachineOption {
	return func(o *machineOptions) {
		o.oracle = oracle
	}
}

// WithCallTimeout 限制每次呼叫加密運算的時間
func WithCallTimeout(d time.Duration) MachineOption {
	return func(o *machineOptions) {
		o.callTimeout = d
	}
}

func WithLogger(logger *slog.Logger) MachineOption {
	return func(o *machineOptions) {
		o.logger = logger
	}
}

// Machine 是拍賣狀態機，所有寫入操作都在同一把寫鎖下完整執行
// 查詢只拿讀鎖並回傳副本，不會看到寫到一半的狀態
type Machine struct {
	mu       sync.RWMutex
	registry *Registry
	ledger   *Ledger
	treasury *Treasury
	exec     fhe.Executor
	logger   *slog.Logger
	options  machineOptions
}

func NewMachine(exec fhe.Executor, opts ...MachineOption) (*Machine, error) {
	if exec == nil {
		return nil, errors.New("executor cannot be nil")
	}

	options := machineOptions{
		store:       nopStore{},
		callTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Machine{
		registry: NewRegistry(),
		ledger:   NewLedger(),
		treasury: NewTreasury(),
		exec:     exec,
		logger:   options.logger.With(slog.String("caller", "auction.Machine")),
		options:  options,
	}, nil
}

// Create 建立拍賣，截止時間為now加上七天
func (m *Machine) Create(ctx context.Context, p CreateParams, now time.Time) (ID, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	zero, err := m.invoke(ctx, m.exec.Zero)
	if err != nil {
		return 0, primitiveError(err, 0, p.Creator)
	}
	a, err := m.registry.Prepare(p, zero, now)
	if err != nil {
		return 0, err
	}
	if err := m.options.store.SaveAuction(ctx, a); err != nil {
		return 0, storageError(err, a.ID, p.Creator)
	}
	if err := m.registry.Commit(a); err != nil {
		return 0, err
	}

	m.logger.Info("auction created", slog.Uint64("auctionId", uint64(a.ID)), slog.String("creator", string(a.Creator)))
	m.emit(Event{Type: EventAuctionCreated, AuctionID: a.ID, Identity: a.Creator, Time: now})
	return a.ID, nil
}

// PlaceBid 驗證出價資格後，以同態運算更新最高出價
// 任何一步失敗都不會改變狀態
func (m *Machine) PlaceBid(ctx context.Context, p PlaceBidParams, now time.Time) error {
	if p.Bidder == "" {
		return invalidArgument("", "bidder is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.registry.Get(p.AuctionID)
	if err != nil {
		return newError(KindNotFound, p.AuctionID, p.Bidder, "auction does not exist")
	}
	switch {
	case !a.IsOpen:
		return newError(KindAuctionClosed, a.ID, p.Bidder, "auction is closed")
	case a.Expired(now):
		return newError(KindAuctionExpired, a.ID, p.Bidder, "auction has passed its end time")
	case p.Bidder == a.Creator:
		return newError(KindSelfBidForbidden, a.ID, p.Bidder, "creator cannot bid on own auction")
	case m.ledger.HasBid(a.ID, p.Bidder):
		return newError(KindDuplicateBid, a.ID, p.Bidder, "bidder already placed a bid")
	case p.Payment < a.MinimumBid:
		return newError(KindBidTooLow, a.ID, p.Bidder, fmt.Sprintf("payment %d is below minimum bid %d", p.Payment, a.MinimumBid))
	case !m.treasury.CanEscrow(a.ID, p.Payment):
		return newError(KindInvalidArgument, a.ID, p.Bidder, "payment overflows escrow")
	}

	next, err := m.runningMax(ctx, a, p)
	if err != nil {
		return err
	}
	bid := Bid{
		AuctionID:   a.ID,
		Bidder:      p.Bidder,
		Amount:      next.amount,
		Comment:     p.Comment,
		Payment:     p.Payment,
		SubmittedAt: now,
	}
	if err := m.options.store.SaveBid(ctx, next.auction, bid); err != nil {
		return storageError(err, a.ID, p.Bidder)
	}

	// 前面已經檢查過重複出價與溢位，以下不會失敗
	if err := m.ledger.Append(bid); err != nil {
		return err
	}
	if err := m.registry.Replace(next.auction); err != nil {
		return err
	}
	if err := m.treasury.Escrow(a.ID, p.Payment); err != nil {
		return err
	}

	m.logger.Info("bid placed", slog.Uint64("auctionId", uint64(a.ID)), slog.String("bidder", string(p.Bidder)))
	m.emit(Event{Type: EventBidPlaced, AuctionID: a.ID, Identity: p.Bidder, Time: now})
	return nil
}

type maxUpdate struct {
	auction Auction
	amount  fhe.Handle
}

// runningMax 計算新的最高出價與其位置，整個過程只接觸密文
func (m *Machine) runningMax(ctx context.Context, a Auction, p PlaceBidParams) (maxUpdate, error) {
	amount, err := m.invoke(ctx, func(ctx context.Context) (fhe.Handle, error) {
		return m.exec.FromProof(ctx, p.Input, p.Proof, string(p.Bidder))
	})
	if err != nil {
		return maxUpdate{}, primitiveError(err, a.ID, p.Bidder)
	}
	isNew, err := m.invoke(ctx, func(ctx context.Context) (fhe.Handle, error) {
		return m.exec.Gt(ctx, amount, a.HighestBid)
	})
	if err != nil {
		return maxUpdate{}, primitiveError(err, a.ID, p.Bidder)
	}
	highest, err := m.invoke(ctx, func(ctx context.Context) (fhe.Handle, error) {
		return m.exec.Select(ctx, isNew, amount, a.HighestBid)
	})
	if err != nil {
		return maxUpdate{}, primitiveError(err, a.ID, p.Bidder)
	}
	position, err := m.invoke(ctx, func(ctx context.Context) (fhe.Handle, error) {
		return m.exec.TrivialEncrypt(ctx, a.BidCount+1)
	})
	if err != nil {
		return maxUpdate{}, primitiveError(err, a.ID, p.Bidder)
	}
	index, err := m.invoke(ctx, func(ctx context.Context) (fhe.Handle, error) {
		return m.exec.Select(ctx, isNew, position, a.HighestBidderIndex)
	})
	if err != nil {
		return maxUpdate{}, primitiveError(err, a.ID, p.Bidder)
	}

	a.HighestBid = highest
	a.HighestBidderIndex = index
	a.BidCount++
	return maxUpdate{auction: a, amount: amount}, nil
}

// Close 結束拍賣並把最低出價轉給賣家
// 沒有任何出價時沒有託管金額，轉帳金額為0，Settlement.Amount 與事件都會帶出實際金額。
// 已結束的拍賣再次呼叫會回傳 AlreadyClosed 且不轉帳
func (m *Machine) Close(ctx context.Context, id ID, caller Identity, now time.Time) (Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.registry.Get(id)
	if err != nil {
		return Settlement{}, newError(KindNotFound, id, caller, "auction does not exist")
	}
	if !a.IsOpen {
		return Settlement{}, newError(KindAlreadyClosed, id, caller, "auction is already closed")
	}
	if !a.Expired(now) && caller != a.Creator {
		return Settlement{}, newError(KindNotAuthorizedToClose, id, caller, "only the creator may close before the end time")
	}

	winner, err := m.resolveWinner(ctx, a)
	if err != nil {
		return Settlement{}, primitiveError(err, id, caller)
	}

	// 沒有出價時沒有託管金額可以轉出
	var amount uint64
	if m.treasury.EscrowOf(id) >= a.MinimumBid {
		amount = a.MinimumBid
	}
	if err := m.treasury.Transfer(id, a.Creator, amount); err != nil {
		return Settlement{}, newError(KindInvalidArgument, id, caller, err.Error())
	}

	a.IsOpen = false
	a.Winner = winner
	a.ClosedAt = now
	a.Transferred = amount
	s := Settlement{
		AuctionID: id,
		Winner:    winner,
		Payee:     a.Creator,
		Amount:    amount,
		ClosedAt:  now,
	}
	if err := m.options.store.SaveSettlement(ctx, a, s); err != nil {
		m.treasury.revert(id, a.Creator, amount)
		return Settlement{}, storageError(err, id, caller)
	}
	if err := m.registry.Replace(a); err != nil {
		return Settlement{}, err
	}

	m.logger.Info("auction closed",
		slog.Uint64("auctionId", uint64(id)),
		slog.String("winner", string(winner)),
		slog.Uint64("transferred", amount),
	)
	m.emit(Event{Type: EventAuctionClosed, AuctionID: id, Identity: caller, Winner: winner, Amount: amount, Time: now})
	return s, nil
}

// resolveWinner 透過預言機解密最高出價的位置，這是唯一會解密的地方
func (m *Machine) resolveWinner(ctx context.Context, a Auction) (Identity, error) {
	if a.BidCount == 0 || m.options.oracle == nil {
		return "", nil
	}
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	index, err := m.options.oracle.Decrypt(callCtx, a.HighestBidderIndex)
	if err != nil {
		return "", err
	}
	bid, ok := m.ledger.At(a.ID, index)
	if !ok {
		// 所有加密金額都不大於0時，位置會維持在0
		return "", nil
	}
	return bid.Bidder, nil
}

// Restore 從持久層重建記憶體狀態，只能在尚未有任何拍賣時呼叫
func (m *Machine) Restore(ctx context.Context) error {
	const op = "Machine.Restore"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registry.Len() > 0 {
		return fmt.Errorf("[%s] Machine already holds %d auctions", op, m.registry.Len())
	}
	snapshot, err := m.options.store.Load(ctx)
	if err != nil {
		return storageError(err, 0, "")
	}

	registry, ledger, treasury := NewRegistry(), NewLedger(), NewTreasury()
	auctions := append([]Auction(nil), snapshot.Auctions...)
	sort.Slice(auctions, func(i, j int) bool { return auctions[i].ID < auctions[j].ID })
	for _, a := range auctions {
		if err := registry.Commit(a); err != nil {
			return fmt.Errorf("[%s] Fail to restore auction, err=%w", op, err)
		}
	}
	for _, b := range snapshot.Bids {
		if err := ledger.Append(b); err != nil {
			return fmt.Errorf("[%s] Fail to restore bid, err=%w", op, err)
		}
		if err := treasury.Escrow(b.AuctionID, b.Payment); err != nil {
			return fmt.Errorf("[%s] Fail to restore escrow, err=%w", op, err)
		}
	}
	for _, s := range snapshot.Settlements {
		if err := treasury.Transfer(s.AuctionID, s.Payee, s.Amount); err != nil {
			return fmt.Errorf("[%s] Fail to restore settlement, err=%w", op, err)
		}
	}
	for _, a := range auctions {
		if a.BidCount != uint64(ledger.Count(a.ID)) {
			return fmt.Errorf("[%s] Auction %d has bidCount %d but %d bids", op, a.ID, a.BidCount, ledger.Count(a.ID))
		}
	}

	m.registry, m.ledger, m.treasury = registry, ledger, treasury
	m.logger.Info("state restored",
		slog.Int("auctions", len(snapshot.Auctions)),
		slog.Int("bids", len(snapshot.Bids)),
		slog.Int("settlements", len(snapshot.Settlements)),
	)
	return nil
}

func (m *Machine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.options.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.options.callTimeout)
}

// invoke 在逾時限制下呼叫一次加密運算
func (m *Machine) invoke(ctx context.Context, fn func(ctx context.Context) (fhe.Handle, error)) (fhe.Handle, error) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	return fn(callCtx)
}

// emit 在狀態提交後發送事件，發送失敗只記錄不回滾
func (m *Machine) emit(event Event) {
	for _, sink := range m.options.sinks {
		if err := sink.Publish(event); err != nil {
			m.logger.Error("publish event error",
				slog.String("type", string(event.Type)),
				slog.Uint64("auctionId", uint64(event.AuctionID)),
				slog.Any("error", err),
			)
		}
	}
}

func primitiveError(err error, id ID, identity Identity) *Error {
	kind := KindPrimitiveUnavailable
	if errors.Is(err, fhe.ErrInvalidProof) {
		kind = KindInvalidProof
	}
	return &Error{Kind: kind, AuctionID: id, Identity: identity, Reason: "encrypted primitive call failed", Err: err}
}

func storageError(err error, id ID, identity Identity) *Error {
	return &Error{Kind: KindStorage, AuctionID: id, Identity: identity, Reason: "fail to persist state", Err: err}
}
