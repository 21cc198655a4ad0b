package hwerrors

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HardwareWalletError is the normalized error every vendor or transport failure is
// turned into before it leaves the bridge boundary. Values are immutable: the
// With* methods return amended copies.
type HardwareWalletError struct {
	id             string
	timestamp      time.Time
	code           ErrorCode
	severity       Severity
	category       Category
	retryStrategy  RetryStrategy
	userActionable bool
	userMessage    string
	message        string
	vendor         Vendor
	vendorCode     string
	retryCount     int
	cause          error
	metadata       map[string]any
}

// Options carries the fields of a new HardwareWalletError. Zero values are
// filled from the code: category from the code block, severity Err, NoRetry and
// the localized default user message.
type Options struct {
	Code           ErrorCode
	Message        string
	Severity       Severity
	Category       Category
	RetryStrategy  RetryStrategy
	UserActionable bool
	UserMessage    string
	Vendor         Vendor
	VendorCode     string
	Cause          error
	Metadata       map[string]any
}

func New(opts Options) *HardwareWalletError {
	if opts.Category == "" {
		opts.Category = opts.Code.Category()
	}
	if opts.Severity == "" {
		opts.Severity = SeverityErr
	}
	if opts.RetryStrategy == "" {
		opts.RetryStrategy = NoRetry
	}
	if opts.UserMessage == "" {
		opts.UserMessage = LocalizeUserMessage(opts.Code)
	}
	if opts.Message == "" {
		opts.Message = opts.Code.String()
	}

	return &HardwareWalletError{
		id:             uuid.New().String(),
		timestamp:      time.Now().UTC(),
		code:           opts.Code,
		severity:       opts.Severity,
		category:       opts.Category,
		retryStrategy:  opts.RetryStrategy,
		userActionable: opts.UserActionable,
		userMessage:    opts.UserMessage,
		message:        opts.Message,
		vendor:         opts.Vendor,
		vendorCode:     opts.VendorCode,
		cause:          opts.Cause,
		metadata:       maps.Clone(opts.Metadata),
	}
}

func (e *HardwareWalletError) ID() string                   { return e.id }
func (e *HardwareWalletError) Timestamp() time.Time         { return e.timestamp }
func (e *HardwareWalletError) Code() ErrorCode              { return e.code }
func (e *HardwareWalletError) Severity() Severity           { return e.severity }
func (e *HardwareWalletError) Category() Category           { return e.category }
func (e *HardwareWalletError) RetryStrategy() RetryStrategy { return e.retryStrategy }
func (e *HardwareWalletError) UserActionable() bool         { return e.userActionable }
func (e *HardwareWalletError) UserMessage() string          { return e.userMessage }
func (e *HardwareWalletError) Message() string              { return e.message }
func (e *HardwareWalletError) Vendor() Vendor               { return e.vendor }
func (e *HardwareWalletError) VendorCode() string           { return e.vendorCode }
func (e *HardwareWalletError) RetryCount() int              { return e.retryCount }
func (e *HardwareWalletError) Cause() error                 { return e.cause }

// Metadata returns a copy of the attached metadata.
func (e *HardwareWalletError) Metadata() map[string]any {
	return maps.Clone(e.metadata)
}

func (e *HardwareWalletError) IsRetryable() bool {
	return e.retryStrategy != NoRetry
}

func (e *HardwareWalletError) IsCritical() bool {
	return e.severity == SeverityCritical
}

func (e *HardwareWalletError) RequiresUserAction() bool {
	return e.userActionable
}

func (e *HardwareWalletError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}

	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *HardwareWalletError) Unwrap() error {
	return e.cause
}

// Is matches another *HardwareWalletError by code, so sentinel-style checks like
// errors.Is(err, hwerrors.New(hwerrors.Options{Code: hwerrors.CodeUserRejected})) work.
func (e *HardwareWalletError) Is(target error) bool {
	t, ok := target.(*HardwareWalletError) //nolint:errorlint // identity comparison of the concrete type
	if !ok {
		return false
	}

	return t.code == e.code
}

// DetailedString renders everything an operator needs in a log line.
func (e *HardwareWalletError) DetailedString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HardwareWalletError[%s] code=%s(%d) severity=%s category=%s retry=%s userActionable=%t",
		e.id, e.code, int(e.code), e.severity, e.category, e.retryStrategy, e.userActionable)

	if e.vendor != "" {
		fmt.Fprintf(&b, " vendor=%s vendorCode=%s", e.vendor, e.vendorCode)
	}
	if e.retryCount > 0 {
		fmt.Fprintf(&b, " retryCount=%d", e.retryCount)
	}
	fmt.Fprintf(&b, " message=%q", e.message)

	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" metadata={")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", k, e.metadata[k])
		}
		b.WriteString("}")
	}

	if e.cause != nil {
		fmt.Fprintf(&b, " cause=%q", e.cause.Error())
	}

	return b.String()
}

func (e *HardwareWalletError) clone() *HardwareWalletError {
	c := *e
	c.id = uuid.New().String()
	c.timestamp = time.Now().UTC()
	c.metadata = maps.Clone(e.metadata)

	return &c
}

// WithMetadata returns a new error whose metadata is the receiver's merged with md.
// Keys in md win.
func (e *HardwareWalletError) WithMetadata(md map[string]any) *HardwareWalletError {
	c := e.clone()
	if c.metadata == nil {
		c.metadata = make(map[string]any, len(md))
	}
	maps.Copy(c.metadata, md)

	return c
}

// WithIncrementedRetryCount returns a new error with the retry count bumped by one.
func (e *HardwareWalletError) WithIncrementedRetryCount() *HardwareWalletError {
	c := e.clone()
	c.retryCount++

	return c
}
