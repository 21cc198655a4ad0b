package hwerrors

import (
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

const genericFailureMessage = "Something went wrong with your hardware wallet. Please try again."

// defaultUserMessages are the English fallbacks shown to users; translations can
// be added with AddTranslations.
var defaultUserMessages = map[ErrorCode]*i18n.Message{
	CodeSuccess:                         {ID: "hw.success", Other: "Operation completed successfully."},
	CodeAuthenticationFailed:            {ID: "hw.auth.failed", Other: "Authentication with your device failed."},
	CodeAuthenticationIncorrectPin:      {ID: "hw.auth.pin", Other: "Incorrect PIN. Please try again."},
	CodeAuthenticationSecurityCondition: {ID: "hw.auth.security", Other: "Please unlock your device and try again."},
	CodeUserRejected:                    {ID: "hw.user.rejected", Other: "You rejected the request on your device."},
	CodeUserCancelled:                   {ID: "hw.user.cancelled", Other: "The action was cancelled."},
	CodeUserConfirmationRequired:        {ID: "hw.user.confirm", Other: "Please confirm the action on your device."},
	CodeUserInputRequired:               {ID: "hw.user.input", Other: "Your device is waiting for input."},
	CodeDeviceLocked:                    {ID: "hw.device.locked", Other: "Your device is locked. Please unlock it to continue."},
	CodeDeviceNotReady:                  {ID: "hw.device.notready", Other: "Your device is not ready. Please reconnect it."},
	CodeDeviceAppNotOpen:                {ID: "hw.device.appclosed", Other: "Please open the Ethereum app on your device."},
	CodeDeviceWrongApp:                  {ID: "hw.device.wrongapp", Other: "Please switch to the Ethereum app on your device."},
	CodeDeviceBusy:                      {ID: "hw.device.busy", Other: "Your device is busy. Please wait and try again."},
	CodeDeviceFirmwareOutdated:          {ID: "hw.device.firmware", Other: "Please update your device firmware."},
	CodeDeviceBlindSigningDisabled:      {ID: "hw.device.blindsign", Other: "Please enable blind signing in the Ethereum app settings."},
	CodeConnectionFailed:                {ID: "hw.conn.failed", Other: "Could not connect to your device."},
	CodeConnectionClosed:                {ID: "hw.conn.closed", Other: "The connection to your device was closed."},
	CodeConnectionTimeout:               {ID: "hw.conn.timeout", Other: "Your device did not respond in time."},
	CodeDeviceDisconnected:              {ID: "hw.conn.disconnected", Other: "Your device was disconnected. Please reconnect it."},
	CodeTransportUnavailable:            {ID: "hw.conn.transport", Other: "No supported connection to your device is available."},
}

var (
	bundleOnce sync.Once
	bundle     *i18n.Bundle

	localizerMu sync.RWMutex
	localizer   *i18n.Localizer
)

func getBundle() *i18n.Bundle {
	bundleOnce.Do(func() {
		bundle = i18n.NewBundle(language.English)
		localizer = i18n.NewLocalizer(bundle, language.English.String())
	})

	return bundle
}

// AddTranslations registers translated user messages. Message IDs must match the
// English defaults.
func AddTranslations(tag language.Tag, messages ...*i18n.Message) error {
	return getBundle().AddMessages(tag, messages...)
}

// SetLanguages selects the preferred languages for user messages.
func SetLanguages(langs ...string) {
	b := getBundle()

	localizerMu.Lock()
	defer localizerMu.Unlock()
	localizer = i18n.NewLocalizer(b, langs...)
}

// LocalizeUserMessage returns the user-facing message for code in the selected language.
func LocalizeUserMessage(code ErrorCode) string {
	def, ok := defaultUserMessages[code]
	if !ok {
		return genericFailureMessage
	}

	getBundle()

	localizerMu.RLock()
	l := localizer
	localizerMu.RUnlock()

	msg, err := l.Localize(&i18n.LocalizeConfig{DefaultMessage: def})
	if err != nil {
		return def.Other
	}

	return msg
}
