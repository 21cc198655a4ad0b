package hwerrors

import "fmt"

// ErrorCode is the vendor-independent semantic code of a hardware wallet error.
// Codes are grouped in blocks of 1000 per category.
type ErrorCode int

const (
	CodeSuccess ErrorCode = 0

	CodeAuthenticationFailed            ErrorCode = 1000
	CodeAuthenticationIncorrectPin      ErrorCode = 1001
	CodeAuthenticationSecurityCondition ErrorCode = 1002

	CodeUserRejected             ErrorCode = 2000
	CodeUserCancelled            ErrorCode = 2001
	CodeUserConfirmationRequired ErrorCode = 2002
	CodeUserInputRequired        ErrorCode = 2003

	CodeDeviceLocked               ErrorCode = 3000
	CodeDeviceNotReady             ErrorCode = 3001
	CodeDeviceAppNotOpen           ErrorCode = 3002
	CodeDeviceWrongApp             ErrorCode = 3003
	CodeDeviceBusy                 ErrorCode = 3004
	CodeDeviceFirmwareOutdated     ErrorCode = 3005
	CodeDeviceBlindSigningDisabled ErrorCode = 3006

	CodeConnectionFailed     ErrorCode = 4000
	CodeConnectionClosed     ErrorCode = 4001
	CodeConnectionTimeout    ErrorCode = 4002
	CodeDeviceDisconnected   ErrorCode = 4003
	CodeTransportUnavailable ErrorCode = 4004

	CodeProtocolInvalidResponse         ErrorCode = 5000
	CodeProtocolUnexpectedMessage       ErrorCode = 5001
	CodeProtocolUnsupportedOperation    ErrorCode = 5002
	CodeProtocolInstructionNotSupported ErrorCode = 5003

	CodeDataInvalid       ErrorCode = 6000
	CodeDataInvalidLength ErrorCode = 6001
	CodeDataInvalidPath   ErrorCode = 6002

	CodeSystemInternal       ErrorCode = 7000
	CodeSystemOutOfMemory    ErrorCode = 7001
	CodeSystemNotImplemented ErrorCode = 7002

	CodeCryptoSignatureFailed ErrorCode = 8000
	CodeCryptoInvalidKey      ErrorCode = 8001

	CodeUnknown ErrorCode = 9999
)

var codeNames = map[ErrorCode]string{
	CodeSuccess:                         "Success",
	CodeAuthenticationFailed:            "AuthenticationFailed",
	CodeAuthenticationIncorrectPin:      "AuthenticationIncorrectPin",
	CodeAuthenticationSecurityCondition: "AuthenticationSecurityCondition",
	CodeUserRejected:                    "UserRejected",
	CodeUserCancelled:                   "UserCancelled",
	CodeUserConfirmationRequired:        "UserConfirmationRequired",
	CodeUserInputRequired:               "UserInputRequired",
	CodeDeviceLocked:                    "DeviceLocked",
	CodeDeviceNotReady:                  "DeviceNotReady",
	CodeDeviceAppNotOpen:                "DeviceAppNotOpen",
	CodeDeviceWrongApp:                  "DeviceWrongApp",
	CodeDeviceBusy:                      "DeviceBusy",
	CodeDeviceFirmwareOutdated:          "DeviceFirmwareOutdated",
	CodeDeviceBlindSigningDisabled:      "DeviceBlindSigningDisabled",
	CodeConnectionFailed:                "ConnectionFailed",
	CodeConnectionClosed:                "ConnectionClosed",
	CodeConnectionTimeout:               "ConnectionTimeout",
	CodeDeviceDisconnected:              "DeviceDisconnected",
	CodeTransportUnavailable:            "TransportUnavailable",
	CodeProtocolInvalidResponse:         "ProtocolInvalidResponse",
	CodeProtocolUnexpectedMessage:       "ProtocolUnexpectedMessage",
	CodeProtocolUnsupportedOperation:    "ProtocolUnsupportedOperation",
	CodeProtocolInstructionNotSupported: "ProtocolInstructionNotSupported",
	CodeDataInvalid:                     "DataInvalid",
	CodeDataInvalidLength:               "DataInvalidLength",
	CodeDataInvalidPath:                 "DataInvalidPath",
	CodeSystemInternal:                  "SystemInternal",
	CodeSystemOutOfMemory:               "SystemOutOfMemory",
	CodeSystemNotImplemented:            "SystemNotImplemented",
	CodeCryptoSignatureFailed:           "CryptoSignatureFailed",
	CodeCryptoInvalidKey:                "CryptoInvalidKey",
	CodeUnknown:                         "Unknown",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}

	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Category derives the category from the code block.
func (c ErrorCode) Category() Category {
	switch c / 1000 { //nolint:mnd // codes are grouped in blocks of 1000
	case 0:
		return CategorySuccess
	case 1:
		return CategoryAuthentication
	case 2:
		return CategoryUserAction
	case 3:
		return CategoryDeviceState
	case 4:
		return CategoryConnection
	case 5:
		return CategoryProtocol
	case 6:
		return CategoryDataValidation
	case 7:
		return CategorySystem
	case 8:
		return CategoryCryptography
	default:
		return CategoryUnknown
	}
}

type Category string

const (
	CategorySuccess        Category = "Success"
	CategoryAuthentication Category = "Authentication"
	CategoryUserAction     Category = "UserAction"
	CategoryDeviceState    Category = "DeviceState"
	CategoryConnection     Category = "Connection"
	CategoryProtocol       Category = "Protocol"
	CategoryDataValidation Category = "DataValidation"
	CategorySystem         Category = "System"
	CategoryCryptography   Category = "Cryptography"
	CategoryUnknown        Category = "Unknown"
)

type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityWarning  Severity = "Warning"
	SeverityErr      Severity = "Err"
	SeverityCritical Severity = "Critical"
)

type RetryStrategy string

const (
	NoRetry            RetryStrategy = "NoRetry"
	Retry              RetryStrategy = "Retry"
	ExponentialBackoff RetryStrategy = "ExponentialBackoff"
)
