package models

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRecordBusy   = errors.New("record is being written by another operation")
	ErrRecordLocked = errors.New("record is locked by a batch")
)
