package settle

import (
	"errors"
	"fmt"
)

var (
	ErrSettlementDataMissing = errors.New("settlement data missing")
	ErrAlreadySettled        = errors.New("account already settled for trading day")
)

// DataMissingError names the input settlement could not find. Nothing is
// applied to the account when it is returned.
type DataMissingError struct {
	AccountID    string
	InstrumentID string
	What         string
}

func (e *DataMissingError) Error() string {
	return fmt.Sprintf("settle %s: no %s for %s", e.AccountID, e.What, e.InstrumentID)
}

func (e *DataMissingError) Unwrap() error { return ErrSettlementDataMissing }
