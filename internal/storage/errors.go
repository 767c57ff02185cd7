package storage

import "errors"

// ErrCorruptStore is returned when the contract store file exists but
// cannot be decoded. The caller decides whether to delete and rebuild;
// the store never discards data on its own.
var ErrCorruptStore = errors.New("contract store is corrupt")
