package widget

import "github.com/apolo-dex/smartlink/core"

const (
	// MountPointID is where the login button is injected
	MountPointID = "telegram-button-container"

	// ButtonElementID identifies the injected script element
	ButtonElementID = "telegram-login-widget"

	// CallbackName is the global handler the widget invokes
	CallbackName = "onTelegramAuth"

	scriptSource = "https://telegram.org/js/telegram-widget.js?22"
)

// TelegramConfig describes the login button
type TelegramConfig struct {
	BotName string
	AuthURL string // optional redirect target used instead of the JS callback
	Size    string
}

// TelegramButton builds the script element that renders the Telegram login button
func TelegramButton(cfg TelegramConfig) core.Element {
	size := cfg.Size
	if size == "" {
		size = "large"
	}

	attrs := map[string]string{
		"src":                 scriptSource,
		"async":               "true",
		"data-telegram-login": cfg.BotName,
		"data-size":           size,
		"data-onauth":         CallbackName + "(user)",
		"data-request-access": "write",
	}
	if cfg.AuthURL != "" {
		attrs["data-auth-url"] = cfg.AuthURL
	}

	return core.Element{
		ID:    ButtonElementID,
		Tag:   "script",
		Attrs: attrs,
	}
}
