package strategy

import (
	"context"
	"errors"
	"sync"

	"github.com/rustyeddy/tradecore/indicators"
	"github.com/rustyeddy/tradecore/model"
)

// EMACross trades one instrument on a fast/slow EMA crossover of bar
// closes. A cross in Direction opens Quantity lots when flat; the
// opposite cross closes whatever is held. Orders are priced at the touch
// of the latest tick.
type EMACross struct {
	Base
	Params

	mu       sync.Mutex
	session  *Session
	fast     *indicators.ExponentialMA
	slow     *indicators.ExponentialMA
	cross    indicators.Cross
	last     model.Tick
	held     int
	// pending is the outstanding transaction; finished is the last one
	// reported done, which may arrive before Open or Close returns.
	pending  string
	finished string
}

func NewEMACross(p Params) (*EMACross, error) {
	if p.InstrumentID == "" {
		return nil, errors.New("ema-cross: instrument required")
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	if p.Direction == "" {
		p.Direction = model.Buy
	}
	if p.FastPeriod <= 0 {
		p.FastPeriod = 5
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 20
	}
	if p.FastPeriod >= p.SlowPeriod {
		return nil, errors.New("ema-cross: fast period must be shorter than slow period")
	}
	return &EMACross{
		Params: p,
		fast:   indicators.NewEMA(p.FastPeriod),
		slow:   indicators.NewEMA(p.SlowPeriod),
	}, nil
}

func (s *EMACross) OnStart(_ context.Context, sess *Session) error {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return nil
}

func (s *EMACross) OnTick(_ context.Context, t model.Tick) error {
	if t.InstrumentID != s.InstrumentID {
		return nil
	}
	s.mu.Lock()
	s.last = t
	s.mu.Unlock()
	return nil
}

func (s *EMACross) OnBar(ctx context.Context, b Bar) error {
	if b.InstrumentID != s.InstrumentID {
		return nil
	}

	s.mu.Lock()
	s.fast.Update(b.Close.InexactFloat64())
	s.slow.Update(b.Close.InexactFloat64())
	if !s.fast.Ready() || !s.slow.Ready() {
		s.mu.Unlock()
		return nil
	}
	signal := s.cross.Update(s.fast.Value(), s.slow.Value())
	if s.Direction == model.Sell {
		signal = -signal
	}

	sess, tick, held := s.session, s.last, s.held
	var doOpen, doClose bool
	switch {
	case sess == nil || s.pending != "" || signal == 0:
	case signal > 0 && held == 0:
		doOpen = true
		s.pending = "open"
	case signal < 0 && held > 0:
		doClose = true
		s.pending = "close"
	}
	s.mu.Unlock()

	var (
		tx  model.Transaction
		err error
	)
	switch {
	case doOpen:
		price, ok := touch(tick, s.Direction)
		if !ok {
			s.mu.Lock()
			s.pending = ""
			s.mu.Unlock()
			return nil
		}
		tx, err = sess.Open(ctx, s.InstrumentID, s.Direction, price, s.Quantity)
	case doClose:
		dir := s.Direction.Opposite()
		price, ok := touch(tick, dir)
		if !ok {
			s.mu.Lock()
			s.pending = ""
			s.mu.Unlock()
			return nil
		}
		tx, err = sess.Close(ctx, s.InstrumentID, dir, price, held)
	default:
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pending = ""
		return err
	}
	if txDone(tx.State) || tx.ID == s.finished {
		s.pending = ""
	} else {
		s.pending = tx.ID
	}
	return nil
}

func (s *EMACross) OnTrade(_ context.Context, t model.Trade) error {
	if t.InstrumentID != s.InstrumentID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Offset.IsOpen() {
		s.held += t.Quantity
	} else {
		s.held -= t.Quantity
	}
	return nil
}

// OnTradeUpdate frees the strategy for its next signal once the
// outstanding transaction is finished.
func (s *EMACross) OnTradeUpdate(_ context.Context, tx model.Transaction) error {
	if !txDone(tx.State) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = tx.ID
	if s.pending == tx.ID {
		s.pending = ""
	}
	return nil
}

func txDone(st model.TransactionState) bool {
	return st == model.TransactionCompleted || st == model.TransactionRejected
}

// Held reports the lots the strategy currently holds.
func (s *EMACross) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}
