// Package store persists ledger records on a luxfi/database backend. Banks
// and positions are stored as JSON under prefixed keys so a boot-time scan
// can rebuild the ledger with two iterator passes.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/luxfi/lending/pkg/lending"
)

const (
	bankPrefix     = "bank:"
	positionPrefix = "position:"
)

// Store reads and writes ledger records.
type Store struct {
	db     database.Database
	logger log.Logger
}

// New creates a store on db.
func New(db database.Database, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Root().New("module", "store")
	}
	return &Store{db: db, logger: logger}
}

func bankKey(asset lending.AssetID) []byte {
	return []byte(bankPrefix + string(asset))
}

func positionKey(owner lending.UserID) []byte {
	return []byte(positionPrefix + string(owner))
}

// PutBank writes one bank record.
func (s *Store) PutBank(bank *lending.Bank) error {
	value, err := json.Marshal(bank)
	if err != nil {
		return fmt.Errorf("marshal bank %s: %w", bank.Asset, err)
	}
	return s.db.Put(bankKey(bank.Asset), value)
}

// GetBank reads one bank record. Missing banks surface
// database.ErrNotFound.
func (s *Store) GetBank(asset lending.AssetID) (*lending.Bank, error) {
	value, err := s.db.Get(bankKey(asset))
	if err != nil {
		return nil, err
	}
	bank := &lending.Bank{}
	if err := json.Unmarshal(value, bank); err != nil {
		return nil, fmt.Errorf("unmarshal bank %s: %w", asset, err)
	}
	return bank, nil
}

// PutPosition writes one position record.
func (s *Store) PutPosition(pos *lending.UserPosition) error {
	value, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", pos.Owner, err)
	}
	return s.db.Put(positionKey(pos.Owner), value)
}

// GetPosition reads one position record.
func (s *Store) GetPosition(owner lending.UserID) (*lending.UserPosition, error) {
	value, err := s.db.Get(positionKey(owner))
	if err != nil {
		return nil, err
	}
	pos := &lending.UserPosition{}
	if err := json.Unmarshal(value, pos); err != nil {
		return nil, fmt.Errorf("unmarshal position %s: %w", owner, err)
	}
	return pos, nil
}

// SaveSnapshot writes a full ledger snapshot.
func (s *Store) SaveSnapshot(banks []*lending.Bank, positions []*lending.UserPosition) error {
	for _, bank := range banks {
		if err := s.PutBank(bank); err != nil {
			return err
		}
	}
	for _, pos := range positions {
		if err := s.PutPosition(pos); err != nil {
			return err
		}
	}
	return nil
}

// Load scans every persisted record. Records that fail to decode are logged
// and skipped rather than aborting the boot.
func (s *Store) Load() ([]*lending.Bank, []*lending.UserPosition, error) {
	var banks []*lending.Bank
	iter := s.db.NewIteratorWithPrefix([]byte(bankPrefix))
	for iter.Next() {
		bank := &lending.Bank{}
		if err := json.Unmarshal(iter.Value(), bank); err != nil {
			s.logger.Warn("skipping undecodable bank record", "key", string(iter.Key()), "error", err)
			continue
		}
		banks = append(banks, bank)
	}
	if err := iter.Error(); err != nil {
		iter.Release()
		return nil, nil, err
	}
	iter.Release()

	var positions []*lending.UserPosition
	iter = s.db.NewIteratorWithPrefix([]byte(positionPrefix))
	defer iter.Release()
	for iter.Next() {
		pos := &lending.UserPosition{}
		if err := json.Unmarshal(iter.Value(), pos); err != nil {
			s.logger.Warn("skipping undecodable position record", "key", string(iter.Key()), "error", err)
			continue
		}
		positions = append(positions, pos)
	}
	if err := iter.Error(); err != nil {
		return nil, nil, err
	}

	s.logger.Info("ledger records loaded", "banks", len(banks), "positions", len(positions))
	return banks, positions, nil
}
