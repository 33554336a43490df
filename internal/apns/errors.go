package apns

import (
	"errors"
	"fmt"
	"time"

	"github.com/sideshow/apns2"
)

var (
	// ErrInvalidArgument is returned when the caller supplies a value the
	// gateway would never accept. Nothing is sent when this is returned.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMalformedIdentifier is returned when a notification id is not a UUID.
	ErrMalformedIdentifier = errors.New("malformed identifier")
)

// Reason is the machine readable failure reason returned by the gateway.
type Reason string

const (
	ReasonPayloadEmpty              Reason = apns2.ReasonPayloadEmpty
	ReasonPayloadTooLarge           Reason = apns2.ReasonPayloadTooLarge
	ReasonBadMessageID              Reason = apns2.ReasonBadMessageID
	ReasonBadExpirationDate         Reason = apns2.ReasonBadExpirationDate
	ReasonBadPriority               Reason = apns2.ReasonBadPriority
	ReasonBadDeviceToken            Reason = apns2.ReasonBadDeviceToken
	ReasonDeviceTokenNotForTopic    Reason = apns2.ReasonDeviceTokenNotForTopic
	ReasonUnregistered              Reason = apns2.ReasonUnregistered
	ReasonBadTopic                  Reason = apns2.ReasonBadTopic
	ReasonTopicDisallowed           Reason = apns2.ReasonTopicDisallowed
	ReasonMissingTopic              Reason = apns2.ReasonMissingTopic
	ReasonBadCertificateEnvironment Reason = apns2.ReasonBadCertificateEnvironment
	ReasonBadCertificate            Reason = apns2.ReasonBadCertificate
	ReasonForbidden                 Reason = apns2.ReasonForbidden
	ReasonTooManyRequests           Reason = apns2.ReasonTooManyRequests
	ReasonIdleTimeout               Reason = apns2.ReasonIdleTimeout
	ReasonInternalServerError       Reason = apns2.ReasonInternalServerError
)

// Group sentinels. An *Error matches its own member sentinel and every
// group above it, e.g. Unregistered matches ErrUnregistered, ErrToken,
// ErrHeader and ErrRequest.
var (
	ErrRequest     = errors.New("there was a problem with the request")
	ErrPayload     = errors.New("there was an error with the request payload")
	ErrHeader      = errors.New("there was a problem with one of the request headers")
	ErrToken       = errors.New("there was a problem with the device token")
	ErrTopic       = errors.New("there was an issue with the apns-topic header")
	ErrCertificate = errors.New("there was a problem with the client certificate")
	ErrHTTP        = errors.New("there was a problem with the HTTP request to APNs")
)

var (
	ErrPayloadEmpty              = errors.New("the message payload was empty")
	ErrPayloadTooLarge           = errors.New("the message payload was too large, the maximum payload size is 4096 bytes")
	ErrBadMessageID              = errors.New("the apns-id header is bad")
	ErrBadExpirationDate         = errors.New("the apns-expiration header is bad")
	ErrBadPriority               = errors.New("the apns-priority value is bad")
	ErrBadDeviceToken            = errors.New("the specified device token was bad, verify that the request contains a valid token and that the token matches the environment")
	ErrDeviceTokenNotForTopic    = errors.New("the device token does not match the specified topic")
	ErrUnregistered              = errors.New("the device token is inactive for the specified topic")
	ErrBadTopic                  = errors.New("the apns-topic header was invalid")
	ErrTopicDisallowed           = errors.New("pushing to this topic is not allowed")
	ErrMissingTopic              = errors.New("the apns-topic header was required but not specified")
	ErrBadCertificateEnvironment = errors.New("the client certificate was for the wrong environment")
	ErrBadCertificate            = errors.New("the certificate was bad")
	ErrForbidden                 = errors.New("the specified action is not allowed")
	ErrTooManyRequests           = errors.New("too many requests were made consecutively to the same device token")
	ErrIdleTimeout               = errors.New("idle time out")
	ErrInternalServerError       = errors.New("an internal server error occurred")
)

type kind struct {
	err    error
	groups []error
}

func (k kind) carriesToken() bool {
	for _, g := range k.groups {
		if g == ErrToken {
			return true
		}
	}
	return false
}

var (
	payloadGroups     = []error{ErrPayload, ErrRequest}
	headerGroups      = []error{ErrHeader, ErrRequest}
	tokenGroups       = []error{ErrToken, ErrHeader, ErrRequest}
	topicGroups       = []error{ErrTopic, ErrHeader, ErrRequest}
	certificateGroups = []error{ErrCertificate}
	httpGroups        = []error{ErrHTTP}
)

var taxonomy = map[Reason]kind{
	ReasonPayloadEmpty:              {ErrPayloadEmpty, payloadGroups},
	ReasonPayloadTooLarge:           {ErrPayloadTooLarge, payloadGroups},
	ReasonBadMessageID:              {ErrBadMessageID, headerGroups},
	ReasonBadExpirationDate:         {ErrBadExpirationDate, headerGroups},
	ReasonBadPriority:               {ErrBadPriority, headerGroups},
	ReasonBadDeviceToken:            {ErrBadDeviceToken, tokenGroups},
	ReasonDeviceTokenNotForTopic:    {ErrDeviceTokenNotForTopic, tokenGroups},
	ReasonUnregistered:              {ErrUnregistered, tokenGroups},
	ReasonBadTopic:                  {ErrBadTopic, topicGroups},
	ReasonTopicDisallowed:           {ErrTopicDisallowed, topicGroups},
	ReasonMissingTopic:              {ErrMissingTopic, topicGroups},
	ReasonBadCertificateEnvironment: {ErrBadCertificateEnvironment, certificateGroups},
	ReasonBadCertificate:            {ErrBadCertificate, certificateGroups},
	ReasonForbidden:                 {ErrForbidden, httpGroups},
	ReasonTooManyRequests:           {ErrTooManyRequests, httpGroups},
	ReasonIdleTimeout:               {ErrIdleTimeout, httpGroups},
	ReasonInternalServerError:       {ErrInternalServerError, httpGroups},
}

// Known reports whether r names a member of the error taxonomy.
func (r Reason) Known() bool {
	_, ok := taxonomy[r]
	return ok
}

// Error is a failure reported by the gateway for a known reason.
type Error struct {
	Reason     Reason
	StatusCode int

	// Token is only set for device token errors.
	Token string

	// UnavailableSince is only set for Unregistered. It is the last time the
	// gateway confirmed the token was no longer valid for the topic; stop
	// pushing until the device registers a token with a later timestamp.
	UnavailableSince time.Time
}

// NewError builds the taxonomy error for reason. The second return value is
// false when the reason is not part of the taxonomy.
func NewError(status int, reason Reason, token string, timestamp *int64) (*Error, bool) {
	k, ok := taxonomy[reason]
	if !ok {
		return nil, false
	}

	e := &Error{Reason: reason, StatusCode: status}
	if k.carriesToken() {
		e.Token = token
	}
	if reason == ReasonUnregistered && timestamp != nil {
		e.UnavailableSince = time.Unix(*timestamp, 0).UTC()
	}

	return e, true
}

func (e *Error) Error() string {
	return fmt.Sprintf("apns: %s (%d): %s", e.Reason, e.StatusCode, e.Description())
}

// Description returns the human readable explanation of the reason.
func (e *Error) Description() string {
	return taxonomy[e.Reason].err.Error()
}

func (e *Error) Is(target error) bool {
	k, ok := taxonomy[e.Reason]
	if !ok {
		return false
	}
	if target == k.err {
		return true
	}
	for _, g := range k.groups {
		if target == g {
			return true
		}
	}
	return false
}

// UnknownReasonError is returned for failures whose reason is not in the
// taxonomy. It never matches a taxonomy sentinel.
type UnknownReasonError struct {
	Reason     string
	StatusCode int
}

func (e *UnknownReasonError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("apns: request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("apns: %s (%d)", e.Reason, e.StatusCode)
}
