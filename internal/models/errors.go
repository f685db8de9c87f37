package models

import "errors"

var ErrInvalidRecord = errors.New("invalid record")
