package database

import (
	"github.com/jmoiron/sqlx"
)

// TxProvider hands out single-use transactions as Queryables, letting
// services compose store calls into one atomic unit without touching sqlx
// directly.
type TxProvider struct {
	db *sqlx.DB
}

func NewTxProvider(db *sqlx.DB) *TxProvider {
	return &TxProvider{db: db}
}

// InTransaction runs fn inside a transaction, committing when it returns
// nil and rolling back otherwise.
func (provider *TxProvider) InTransaction(fn func(db Queryable) error) error {
	return WrapTx(provider.db, func(tx *sqlx.Tx) error {
		return fn(tx)
	})
}
