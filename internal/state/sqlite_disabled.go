//go:build !sqlite
// +build !sqlite

package state

import (
	"autopost/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, ErrDisabled
}
