package export

import (
	"errors"
	"fmt"

	"github.com/ghalamif/MeterFlow/internal/report"
)

// ErrEmptyResult is returned when the store holds nothing to export.
var ErrEmptyResult = errors.New("no data available to export")

// StoreQueryError wraps a failure of the historical store.
type StoreQueryError struct {
	Err error
}

func (e *StoreQueryError) Error() string { return fmt.Sprintf("query historical store: %v", e.Err) }
func (e *StoreQueryError) Unwrap() error { return e.Err }

// RenderError wraps a failure to produce the document.
type RenderError struct {
	Format report.Format
	Err    error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render %s: %v", e.Format, e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

// DeliveryError wraps a failure to hand the file to the user.
type DeliveryError struct {
	Name string
	Err  error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("deliver %s: %v", e.Name, e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

const genericFailure = "Export failed. Please try again."

// UserMessage turns an Export error into the text shown in an alert.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		sq *StoreQueryError
		re *RenderError
		de *DeliveryError
	)
	switch {
	case errors.Is(err, ErrEmptyResult):
		return "No data available to download."
	case errors.As(err, &sq):
		return withDetail("Failed to fetch data", sq.Err)
	case errors.As(err, &re):
		return withDetail("Failed to generate report", re.Err)
	case errors.As(err, &de):
		return withDetail("Failed to save file", de.Err)
	default:
		return genericFailure
	}
}

func withDetail(prefix string, err error) string {
	if err == nil || err.Error() == "" {
		return prefix + "."
	}
	return prefix + ": " + err.Error()
}
