package hwerrors

import (
	"fmt"
	"strconv"
	"strings"
)

type Vendor string

const (
	VendorLedger Vendor = "ledger"
	VendorTrezor Vendor = "trezor"
)

// Mapping describes how one native vendor status code is normalized.
type Mapping struct {
	Code           ErrorCode
	Severity       Severity
	RetryStrategy  RetryStrategy
	UserActionable bool
	Message        string
}

// ledgerMappings is keyed by the APDU status word in lowercase hex ("0x6985").
var ledgerMappings = map[string]Mapping{
	"0x9000": {CodeSuccess, SeverityInfo, NoRetry, false, "Operation successful"},
	"0x6985": {CodeUserRejected, SeverityWarning, NoRetry, true, "Conditions of use not satisfied (user rejected)"},
	"0x5501": {CodeUserRejected, SeverityWarning, NoRetry, true, "User refused on device"},
	"0x6982": {CodeAuthenticationSecurityCondition, SeverityWarning, Retry, true, "Security status not satisfied"},
	"0x63c0": {CodeAuthenticationIncorrectPin, SeverityWarning, Retry, true, "Incorrect PIN"},
	"0x5515": {CodeDeviceLocked, SeverityWarning, Retry, true, "Device is locked"},
	"0x6b0c": {CodeDeviceLocked, SeverityWarning, Retry, true, "Device is locked"},
	"0x6d00": {CodeDeviceAppNotOpen, SeverityWarning, Retry, true, "Ethereum app is not open"},
	"0x6e00": {CodeDeviceAppNotOpen, SeverityWarning, Retry, true, "Application not open or CLA not supported"},
	"0x6511": {CodeDeviceWrongApp, SeverityWarning, Retry, true, "Wrong application open on device"},
	"0x6807": {CodeDeviceAppNotOpen, SeverityWarning, Retry, true, "Required application is not installed"},
	"0x6a80": {CodeDataInvalid, SeverityErr, NoRetry, false, "Invalid data received"},
	"0x6a84": {CodeSystemOutOfMemory, SeverityCritical, NoRetry, false, "Not enough memory space"},
	"0x6700": {CodeDataInvalidLength, SeverityErr, NoRetry, false, "Incorrect data length"},
	"0x6b00": {CodeDataInvalidPath, SeverityErr, NoRetry, false, "Incorrect parameters P1/P2"},
	"0x6d02": {CodeProtocolInstructionNotSupported, SeverityErr, NoRetry, false, "Instruction not supported"},
	"0x6a83": {CodeDeviceBlindSigningDisabled, SeverityWarning, NoRetry, true, "Blind signing must be enabled in the app settings"},
	"0x6f00": {CodeSystemInternal, SeverityCritical, NoRetry, false, "Technical problem (internal error)"},
	"0x6faa": {CodeDeviceNotReady, SeverityWarning, ExponentialBackoff, true, "Device needs to be reconnected"},
}

var trezorMappings = map[string]Mapping{
	"Failure_ActionCancelled":   {CodeUserCancelled, SeverityWarning, NoRetry, true, "Action cancelled by user"},
	"Failure_PinCancelled":      {CodeUserCancelled, SeverityWarning, NoRetry, true, "PIN entry cancelled"},
	"Failure_PinInvalid":        {CodeAuthenticationIncorrectPin, SeverityWarning, Retry, true, "Invalid PIN"},
	"Failure_PinExpected":       {CodeUserInputRequired, SeverityWarning, Retry, true, "PIN expected"},
	"Failure_PinMismatch":       {CodeAuthenticationIncorrectPin, SeverityWarning, Retry, true, "PIN mismatch"},
	"Failure_ButtonExpected":    {CodeUserConfirmationRequired, SeverityWarning, Retry, true, "Button press expected"},
	"Failure_DataError":         {CodeDataInvalid, SeverityErr, NoRetry, false, "Data error"},
	"Failure_ProcessError":      {CodeSystemInternal, SeverityErr, Retry, false, "Process error"},
	"Failure_NotEnoughFunds":    {CodeDataInvalid, SeverityErr, NoRetry, true, "Not enough funds"},
	"Failure_NotInitialized":    {CodeDeviceNotReady, SeverityErr, NoRetry, true, "Device not initialized"},
	"Failure_FirmwareError":     {CodeDeviceFirmwareOutdated, SeverityCritical, NoRetry, true, "Firmware error"},
	"Failure_UnexpectedMessage": {CodeProtocolUnexpectedMessage, SeverityErr, Retry, false, "Unexpected message"},
	"Failure_InvalidSignature":  {CodeCryptoSignatureFailed, SeverityErr, NoRetry, false, "Invalid signature"},
	"Failure_Busy":              {CodeDeviceBusy, SeverityWarning, ExponentialBackoff, false, "Device is busy"},
	"Device_Disconnected":       {CodeDeviceDisconnected, SeverityErr, ExponentialBackoff, true, "Device disconnected"},
	"Device_UsedElsewhere":      {CodeDeviceBusy, SeverityWarning, Retry, true, "Device is used in another window"},
	"Method_Interrupted":        {CodeUserCancelled, SeverityWarning, NoRetry, true, "Popup closed"},
	"Transport_Missing":         {CodeTransportUnavailable, SeverityCritical, NoRetry, true, "Transport is missing"},
}

// LookupMapping returns the normalization entry for the native code, if the
// vendor table knows it.
func LookupMapping(vendor Vendor, nativeCode string) (Mapping, bool) {
	switch vendor {
	case VendorLedger:
		m, ok := ledgerMappings[normalizeLedgerCode(nativeCode)]
		return m, ok
	case VendorTrezor:
		m, ok := trezorMappings[nativeCode]
		return m, ok
	default:
		return Mapping{}, false
	}
}

// normalizeLedgerCode accepts "0x6985", "6985" or the decimal status word "27013".
func normalizeLedgerCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if strings.HasPrefix(code, "0x") {
		return code
	}

	if n, err := strconv.ParseUint(code, 10, 16); err == nil && len(code) != 4 {
		return fmt.Sprintf("0x%04x", n)
	}

	return "0x" + code
}

// CreateError normalizes a native vendor status code. Unknown codes fall back to
// Unknown/Err/NoRetry and keep the raw code in the message.
func CreateError(vendor Vendor, nativeCode string, message string) *HardwareWalletError {
	m, ok := LookupMapping(vendor, nativeCode)
	if !ok {
		msg := fmt.Sprintf("unknown %s error code %s", vendor, nativeCode)
		if message != "" {
			msg = fmt.Sprintf("%s: %s", msg, message)
		}

		return New(Options{
			Code:          CodeUnknown,
			Message:       msg,
			Severity:      SeverityErr,
			RetryStrategy: NoRetry,
			Vendor:        vendor,
			VendorCode:    nativeCode,
		})
	}

	if message == "" {
		message = m.Message
	}

	return New(Options{
		Code:           m.Code,
		Message:        message,
		Severity:       m.Severity,
		RetryStrategy:  m.RetryStrategy,
		UserActionable: m.UserActionable,
		Vendor:         vendor,
		VendorCode:     nativeCode,
	})
}
