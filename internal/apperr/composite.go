package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Severity tells a caller whether an item aborts the enclosing operation.
type Severity int

const (
	// SeverityMinor is informational; processing continues.
	SeverityMinor Severity = iota
	// SeverityFatal aborts the operation the item was raised in.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "minor"
}

// MarshalText renders the severity as "minor" or "fatal".
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Item is a single sub-error of a Composite.
type Item struct {
	Message  string   `json:"message"`
	Status   Status   `json:"status"`
	Severity Severity `json:"severity"`
	Payload  any      `json:"payload,omitempty"`
	Cause    error    `json:"-"`
}

// Minor builds an informational item.
func Minor(status Status, msg string, payload any) *Item {
	return &Item{Message: msg, Status: status, Severity: SeverityMinor, Payload: payload}
}

// Fatal builds an aborting item with an optional cause.
func Fatal(status Status, msg string, payload any, cause error) *Item {
	return &Item{Message: msg, Status: status, Severity: SeverityFatal, Payload: payload, Cause: cause}
}

func (i *Item) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", i.Status, i.Message)
	if i.Cause != nil {
		fmt.Fprintf(&b, ": %v", i.Cause)
	}
	return b.String()
}

func (i *Item) Unwrap() error { return i.Cause }

// IsFatal reports whether the item has fatal severity.
func (i *Item) IsFatal() bool { return i.Severity == SeverityFatal }

// Composite is an ordered aggregate of sub-errors.
type Composite struct {
	Errors []*Item `json:"errors"`
}

// NewComposite builds a composite from a non-empty list of items. It returns
// nil when items is empty so callers never hand out an empty aggregate.
func NewComposite(items ...*Item) *Composite {
	if len(items) == 0 {
		return nil
	}
	out := make([]*Item, len(items))
	copy(out, items)
	return &Composite{Errors: out}
}

// Join is NewComposite typed as error: it returns a nil interface for an
// empty list.
func Join(items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	return NewComposite(items...)
}

// Items returns the sub-errors in encounter order.
func (c *Composite) Items() []*Item {
	if c == nil {
		return nil
	}
	return c.Errors
}

// IsFatal is true iff any sub-error is fatal.
func (c *Composite) IsFatal() bool {
	if c == nil {
		return false
	}
	for _, it := range c.Errors {
		if it.IsFatal() {
			return true
		}
	}
	return false
}

func (c *Composite) Error() string {
	if c == nil || len(c.Errors) == 0 {
		return "no errors"
	}
	if len(c.Errors) == 1 {
		return c.Errors[0].Error()
	}
	parts := make([]string, len(c.Errors))
	for i, it := range c.Errors {
		parts[i] = it.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(c.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes every item so errors.Is and errors.As reach their causes.
func (c *Composite) Unwrap() []error {
	if c == nil {
		return nil
	}
	out := make([]error, len(c.Errors))
	for i, it := range c.Errors {
		out[i] = it
	}
	return out
}

// MarshalJSON keeps the wire shape {"errors": [...]} and includes each
// item's cause as a string.
func (c *Composite) MarshalJSON() ([]byte, error) {
	type wireItem struct {
		*Item
		Cause string `json:"cause,omitempty"`
	}
	items := make([]wireItem, len(c.Items()))
	for i, it := range c.Items() {
		items[i] = wireItem{Item: it}
		if it.Cause != nil {
			items[i].Cause = it.Cause.Error()
		}
	}
	return json.Marshal(struct {
		Errors []wireItem `json:"errors"`
	}{Errors: items})
}

// ItemsOf flattens err into items. Composites contribute their items in
// order, an *Item contributes itself and any other error is lifted into a
// single fatal item that keeps err as its cause.
func ItemsOf(err error) []*Item {
	if err == nil {
		return nil
	}
	var comp *Composite
	if errors.As(err, &comp) && comp != nil {
		return comp.Errors
	}
	var item *Item
	if errors.As(err, &item) && item != nil {
		return []*Item{item}
	}
	status := StatusOf(err)
	if status == "" {
		status = StatusUnknown
	}
	var payload any
	if fields := FieldsOf(err); len(fields) > 0 {
		payload = fields
	}
	return []*Item{Fatal(status, err.Error(), payload, err)}
}

// Combine concatenates the items of every non-nil error in argument order.
// It is associative and nil is its identity; it returns nil when nothing
// remains.
func Combine(errs ...error) error {
	var items []*Item
	for _, err := range errs {
		items = append(items, ItemsOf(err)...)
	}
	return Join(items)
}

// IsFatal reports whether err should abort its caller: composites and items
// answer for themselves, any other non-nil error is fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var comp *Composite
	if errors.As(err, &comp) {
		return comp.IsFatal()
	}
	var item *Item
	if errors.As(err, &item) {
		return item.IsFatal()
	}
	return true
}
