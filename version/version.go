/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package version

import (
	"fmt"
	"runtime"

	"github.com/ortuman/xmppchat/xmpp"
)

// Namespace is the software version (XEP-0092) namespace.
const Namespace = "jabber:iq:version"

// ApplicationName is the name announced in software version replies.
const ApplicationName = "xmppchat"

// Version is the current application version.
var Version = NewVersion(0, 1, 0)

// SemanticVersion represents a major.minor.patch version.
type SemanticVersion struct {
	major uint
	minor uint
	patch uint
}

// NewVersion returns a new semantic version instance.
func NewVersion(major, minor, patch uint) *SemanticVersion {
	return &SemanticVersion{
		major: major,
		minor: minor,
		patch: patch,
	}
}

// String returns the version string representation.
func (v *SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// IsEqual returns true if both versions are the same.
func (v *SemanticVersion) IsEqual(v2 *SemanticVersion) bool {
	if v == v2 {
		return true
	}
	return v.major == v2.major && v.minor == v2.minor && v.patch == v2.patch
}

// IsLess returns true if v precedes v2.
func (v *SemanticVersion) IsLess(v2 *SemanticVersion) bool {
	return v.compare(v2) < 0
}

// IsGreater returns true if v follows v2.
func (v *SemanticVersion) IsGreater(v2 *SemanticVersion) bool {
	return v.compare(v2) > 0
}

func (v *SemanticVersion) compare(v2 *SemanticVersion) int {
	switch {
	case v.major != v2.major:
		return cmp(v.major, v2.major)
	case v.minor != v2.minor:
		return cmp(v.minor, v2.minor)
	}
	return cmp(v.patch, v2.patch)
}

func cmp(a, b uint) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Query returns the software version query payload announcing the running application.
func Query() *xmpp.Element {
	q := xmpp.NewElementNamespace("query", Namespace)
	q.AppendElement(xmpp.NewElementName("name").SetText(ApplicationName))
	q.AppendElement(xmpp.NewElementName("version").SetText(Version.String()))
	q.AppendElement(xmpp.NewElementName("os").SetText(runtime.GOOS))
	return q
}
