package apns

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofrs/uuid"
)

// Priority is the value of the apns-priority header.
type Priority string

const (
	// PriorityHigh sends the notification immediately. It must trigger an
	// alert, sound or badge on the device.
	PriorityHigh Priority = "10"
	// PriorityLow lets the gateway take power considerations into account.
	// These notifications may be grouped, throttled or dropped.
	PriorityLow Priority = "5"
)

// ExpireImmediately tells the gateway not to store the notification.
const ExpireImmediately int64 = 0

const (
	HeaderID         = "apns-id"
	HeaderTopic      = "apns-topic"
	HeaderPriority   = "apns-priority"
	HeaderExpiration = "apns-expiration"

	apsKey = "aps"
)

// Notification is a single outbound push. It is immutable once built, so
// the wire form is computed on first use and shared by every later call.
type Notification struct {
	id               uuid.UUID
	topic            string
	alert            interface{}
	badge            *int
	sound            string
	category         string
	contentAvailable bool
	priority         Priority
	expiration       int64
	custom           map[string]interface{}

	payloadOnce sync.Once
	payload     map[string]interface{}

	bodyOnce sync.Once
	body     []byte
	bodyErr  error

	headersOnce sync.Once
	headers     map[string]string
}

type NotificationOption func(*Notification) error

// NewNotification builds a notification. The priority defaults to
// PriorityHigh and the expiration to ExpireImmediately.
func NewNotification(opts ...NotificationOption) (*Notification, error) {
	n := &Notification{
		priority:   PriorityHigh,
		expiration: ExpireImmediately,
		custom:     map[string]interface{}{},
	}

	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}

	if err := n.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	return n, nil
}

func noReservedKey(value interface{}) error {
	m, _ := value.(map[string]interface{})
	if _, ok := m[apsKey]; ok {
		return errors.New("the aps key is reserved")
	}
	return nil
}

func (n *Notification) validate() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.priority, validation.Required, validation.In(PriorityHigh, PriorityLow)),
		validation.Field(&n.expiration, validation.Min(int64(0))),
		validation.Field(&n.badge, validation.Min(0)),
		validation.Field(&n.custom, validation.By(noReservedKey)),
	)
}

func WithID(id uuid.UUID) NotificationOption {
	return func(n *Notification) error {
		n.id = id
		return nil
	}
}

// WithIDString parses id in any form accepted by uuid.FromString.
func WithIDString(id string) NotificationOption {
	return func(n *Notification) error {
		uid, err := uuid.FromString(id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedIdentifier, err)
		}
		n.id = uid
		return nil
	}
}

// WithTopic sets the topic, typically the bundle ID of the app. It is
// required when the certificate covers more than one topic.
func WithTopic(topic string) NotificationOption {
	return func(n *Notification) error {
		n.topic = topic
		return nil
	}
}

// WithAlert sets a plain text alert.
func WithAlert(text string) NotificationOption {
	return func(n *Notification) error {
		n.alert = text
		return nil
	}
}

func WithAlertDict(alert Alert) NotificationOption {
	return func(n *Notification) error {
		n.alert = alert
		return nil
	}
}

// WithBadge sets the app icon badge. Zero removes the badge.
func WithBadge(badge int) NotificationOption {
	return func(n *Notification) error {
		n.badge = &badge
		return nil
	}
}

func WithSound(sound string) NotificationOption {
	return func(n *Notification) error {
		n.sound = sound
		return nil
	}
}

func WithCategory(category string) NotificationOption {
	return func(n *Notification) error {
		n.category = category
		return nil
	}
}

func WithContentAvailable(available bool) NotificationOption {
	return func(n *Notification) error {
		n.contentAvailable = available
		return nil
	}
}

func WithPriority(priority Priority) NotificationOption {
	return func(n *Notification) error {
		n.priority = priority
		return nil
	}
}

// WithExpiration sets the instant after which the gateway may discard the
// notification. Sub-second precision is dropped. The zero time expires
// immediately.
func WithExpiration(t time.Time) NotificationOption {
	return func(n *Notification) error {
		if t.IsZero() {
			n.expiration = ExpireImmediately
			return nil
		}
		n.expiration = t.Unix()
		return nil
	}
}

// WithExpirationUnix sets the expiration as seconds since the Unix epoch.
func WithExpirationUnix(seconds int64) NotificationOption {
	return func(n *Notification) error {
		n.expiration = seconds
		return nil
	}
}

func WithExpireImmediately() NotificationOption {
	return WithExpirationUnix(ExpireImmediately)
}

// WithCustom adds a top level payload key next to aps.
func WithCustom(key string, value interface{}) NotificationOption {
	return func(n *Notification) error {
		n.custom[key] = value
		return nil
	}
}

func WithCustomData(data map[string]interface{}) NotificationOption {
	return func(n *Notification) error {
		for k, v := range data {
			n.custom[k] = v
		}
		return nil
	}
}

func (n *Notification) ID() uuid.UUID {
	return n.id
}

func (n *Notification) Topic() string {
	return n.topic
}

func (n *Notification) Priority() Priority {
	return n.priority
}

// Expiration returns the expiration instant. The second value is false when
// the notification expires immediately.
func (n *Notification) Expiration() (time.Time, bool) {
	if n.expiration == ExpireImmediately {
		return time.Time{}, false
	}
	return time.Unix(n.expiration, 0).UTC(), true
}

func (n *Notification) aps() map[string]interface{} {
	aps := map[string]interface{}{}

	switch alert := n.alert.(type) {
	case string:
		if alert != "" {
			aps["alert"] = alert
		}
	case Alert:
		if p := alert.Payload(); len(p) > 0 {
			aps["alert"] = p
		}
	}

	if n.badge != nil {
		aps["badge"] = *n.badge
	}
	if n.sound != "" {
		aps["sound"] = n.sound
	}
	if n.contentAvailable {
		aps["content-available"] = 1
	}
	if n.category != "" {
		aps["category"] = n.category
	}

	return aps
}

// Payload returns the notification payload: the aps dictionary plus the
// custom keys. The map is shared; callers must not modify it.
func (n *Notification) Payload() map[string]interface{} {
	n.payloadOnce.Do(func() {
		p := make(map[string]interface{}, len(n.custom)+1)
		for k, v := range n.custom {
			p[k] = v
		}
		p[apsKey] = n.aps()
		n.payload = p
	})

	return n.payload
}

// EncodedBody returns the payload as compact UTF-8 JSON. Non-ASCII and HTML
// characters are written unescaped.
func (n *Notification) EncodedBody() ([]byte, error) {
	n.bodyOnce.Do(func() {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(n.Payload()); err != nil {
			n.bodyErr = fmt.Errorf("encoding payload: %w", err)
			return
		}
		n.body = unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	})

	return n.body, n.bodyErr
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes written by
// encoding/json back into raw UTF-8. Escape pairs are consumed whole so an
// escaped backslash followed by "u2028" is left alone.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}

	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}

		if b[i+1] == 'u' && i+5 < len(b) && string(b[i+2:i+5]) == "202" && (b[i+5] == '8' || b[i+5] == '9') {
			r := '\u2028'
			if b[i+5] == '9' {
				r = '\u2029'
			}
			out = utf8.AppendRune(out, r)
			i += 5
			continue
		}

		out = append(out, b[i], b[i+1])
		i++
	}

	return out
}

// Headers returns the apns-* request headers. apns-priority and
// apns-expiration are always present.
func (n *Notification) Headers() map[string]string {
	n.headersOnce.Do(func() {
		h := map[string]string{
			HeaderPriority:   string(n.priority),
			HeaderExpiration: strconv.FormatInt(n.expiration, 10),
		}
		if n.id != uuid.Nil {
			h[HeaderID] = n.id.String()
		}
		if n.topic != "" {
			h[HeaderTopic] = n.topic
		}
		n.headers = h
	})

	return n.headers
}
