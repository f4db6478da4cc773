package repositories

import "errors"

// ErrNotFound is returned when the requested record does not exist. Callers
// branch on it with errors.Is to distinguish absence from operational
// failure.
var ErrNotFound = errors.New("record not found")

// ErrInsufficientStock is returned by ReserveStock when the conditional
// decrement would take stock below zero.
var ErrInsufficientStock = errors.New("insufficient stock")
