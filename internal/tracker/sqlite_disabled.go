//go:build !sqlite
// +build !sqlite

package tracker

import (
	"errors"

	"eventwatch/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite tracker not built: build with -tags sqlite")
}
