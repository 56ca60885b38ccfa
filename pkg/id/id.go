package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind prefixes an identifier with the entity it names.
type Kind string

const (
	Account     Kind = "AC"
	Contract    Kind = "CT"
	Order       Kind = "OR"
	Trade       Kind = "TR"
	Transaction Kind = "TX"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// ulid.Monotonic keeps IDs generated within the same millisecond
	// strictly increasing, so sorting by ID is sorting by creation order.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a bare ULID string.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Only possible if the clock runs backwards past the ULID epoch
		// or the entropy source overflows inside one millisecond.
		panic(err)
	}
	return id.String()
}

// NewKind returns "<kind>-<ulid>", e.g. "CT-01HV...".
func NewKind(k Kind) string {
	return string(k) + "-" + New()
}

// KindOf returns the kind prefix of an identifier produced by NewKind.
func KindOf(s string) (Kind, bool) {
	if len(s) < 4 || s[2] != '-' {
		return "", false
	}
	switch k := Kind(s[:2]); k {
	case Account, Contract, Order, Trade, Transaction:
		return k, true
	}
	return "", false
}
