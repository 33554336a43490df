package apns

// Alert is the structured form of the aps alert. Use it instead of a plain
// string when the notification needs a title, localization or a custom
// launch image.
type Alert struct {
	Title string
	Body  string

	// TitleLocKey is a key into Localizable.strings for the title. It may
	// contain %@ and %n$@ specifiers filled from TitleLocArgs.
	TitleLocKey  string
	TitleLocArgs []string

	// ActionLocKey replaces the title of the "View" button.
	ActionLocKey string

	LocKey  string
	LocArgs []string

	// LaunchImage is an image file in the app bundle shown when the app is
	// launched from the notification.
	LaunchImage string
}

// Payload returns the alert dictionary, omitting every empty field.
func (a Alert) Payload() map[string]interface{} {
	p := map[string]interface{}{}

	setString := func(key, val string) {
		if val != "" {
			p[key] = val
		}
	}
	setStrings := func(key string, val []string) {
		if len(val) > 0 {
			p[key] = val
		}
	}

	setString("title", a.Title)
	setString("body", a.Body)
	setString("title-loc-key", a.TitleLocKey)
	setStrings("title-loc-args", a.TitleLocArgs)
	setString("action-loc-key", a.ActionLocKey)
	setString("loc-key", a.LocKey)
	setStrings("loc-args", a.LocArgs)
	setString("launch-image", a.LaunchImage)

	return p
}
