package events

import "errors"

// ErrSubscriberClosed is returned when subscribing to a closed notifier
var ErrSubscriberClosed = errors.New("event subscriber is closed")
