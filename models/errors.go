package models

import (
	"errors"
	"fmt"
)

var (
	ErrLocationNotFound     = errors.New("location not found")
	ErrWarehouseNotSellable = errors.New("central warehouse is not sellable")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOrderNotFound        = errors.New("order not found")
	ErrMissingRedirect      = errors.New("missing redirect")
	ErrProductExists        = errors.New("product already exists")
)

// FetchError 表示完整載入庫存時的網路或解碼失敗
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to load inventory: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError 表示使用者輸入無效，不會發出任何網路請求
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConversionError 表示外幣換算失敗；本地總額仍然有效
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("currency conversion failed: %v", e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// PaymentSessionError carries the payment collaborator's message.
type PaymentSessionError struct {
	Message string
	Err     error
}

func (e *PaymentSessionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment session: %s", e.Message)
	}
	return fmt.Sprintf("payment session: %v", e.Err)
}

func (e *PaymentSessionError) Unwrap() error { return e.Err }

// DecodeError is a malformed push message; it is isolated to that one message.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode stock delta: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InsufficientStockError 帶有目前可用數量，供回應訊息使用
type InsufficientStockError struct {
	Name      string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock at %s (available: %d)", e.Name, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
