package strategy

import (
	"context"
	"errors"
	"sync"

	"github.com/rustyeddy/tradecore/model"
	"github.com/shopspring/decimal"
)

// OpenOnce opens one position on the first usable tick of its instrument
// and, when CloseAfter is set, closes it that many ticks after the open
// completes. Orders are priced at the touch so they fill immediately.
type OpenOnce struct {
	Base
	Params

	mu      sync.Mutex
	session *Session
	openTx  string
	held    int
	ticks   int
	closing bool
	done    bool
}

func NewOpenOnce(p Params) (*OpenOnce, error) {
	if p.InstrumentID == "" {
		return nil, errors.New("open-once: instrument required")
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	if p.Direction == "" {
		p.Direction = model.Buy
	}
	return &OpenOnce{Params: p}, nil
}

func (s *OpenOnce) OnStart(_ context.Context, sess *Session) error {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return nil
}

func (s *OpenOnce) OnTick(ctx context.Context, t model.Tick) error {
	if t.InstrumentID != s.InstrumentID {
		return nil
	}

	s.mu.Lock()
	sess := s.session
	var (
		doOpen, doClose bool
		qty             int
	)
	switch {
	case sess == nil || s.done:
	case s.openTx == "":
		doOpen = true
		s.openTx = "pending"
	case s.held > 0 && !s.closing && s.CloseAfter > 0:
		s.ticks++
		if s.ticks >= s.CloseAfter {
			doClose, qty = true, s.held
			s.closing = true
		}
	}
	s.mu.Unlock()

	switch {
	case doOpen:
		price, ok := touch(t, s.Direction)
		if !ok {
			s.mu.Lock()
			s.openTx = ""
			s.mu.Unlock()
			return nil
		}
		tx, err := sess.Open(ctx, s.InstrumentID, s.Direction, price, s.Quantity)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.done = true
			return err
		}
		s.openTx = tx.ID
	case doClose:
		dir := s.Direction.Opposite()
		price, ok := touch(t, dir)
		if !ok {
			s.mu.Lock()
			s.closing = false
			s.mu.Unlock()
			return nil
		}
		_, err := sess.Close(ctx, s.InstrumentID, dir, price, qty)
		if err != nil {
			s.mu.Lock()
			s.done = true
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

func (s *OpenOnce) OnTrade(_ context.Context, t model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.InstrumentID != s.InstrumentID {
		return nil
	}
	if t.Offset.IsOpen() {
		s.held += t.Quantity
	} else {
		s.held -= t.Quantity
		if s.held <= 0 {
			s.done = true
		}
	}
	return nil
}

// Held reports the lots the strategy currently holds.
func (s *OpenOnce) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// touch is the price that crosses immediately for an order in dir.
func touch(t model.Tick, dir model.Direction) (decimal.Decimal, bool) {
	p := t.AskPrice
	if dir == model.Sell {
		p = t.BidPrice
	}
	if !p.IsPositive() {
		p = t.LastPrice
	}
	return p, p.IsPositive()
}
