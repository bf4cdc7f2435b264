/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"time"
)

const (
	delayNamespace = "urn:xmpp:delay"

	delayStampLayout = "2006-01-02T15:04:05Z"
)

// Delay attaches element's Delayed Delivery information.
func (e *Element) Delay(from string, stamp time.Time) {
	d := NewElementNamespace("delay", delayNamespace)
	if len(from) > 0 {
		d.SetAttribute("from", from)
	}
	d.SetAttribute("stamp", stamp.UTC().Format(delayStampLayout))
	e.AppendElement(d)
}

// Delayed returns the Delayed Delivery timestamp of an element, if any.
// Room history and offline messages carry this information.
func Delayed(e XElement) (time.Time, bool) {
	d := e.Elements().ChildNamespace("delay", delayNamespace)
	if d == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, d.Attributes().Get("stamp"))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
