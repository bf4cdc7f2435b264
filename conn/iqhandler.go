/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package conn

import (
	"sort"

	"github.com/ortuman/xmppchat/muc"
	"github.com/ortuman/xmppchat/ping"
	"github.com/ortuman/xmppchat/router"
	"github.com/ortuman/xmppchat/version"
	"github.com/ortuman/xmppchat/xmpp"
)

const discoInfoNamespace = "http://jabber.org/protocol/disco#info"

// iqHandler answers server originated IQ requests.
type iqHandler interface {
	MatchesIQ(iq *xmpp.IQ) bool
	ProcessIQ(iq *xmpp.IQ) xmpp.Stanza
}

// discoInfo answers service discovery information requests.
type discoInfo struct {
	features []string
}

func newDiscoInfo() *discoInfo {
	features := []string{
		discoInfoNamespace,
		ping.Namespace,
		version.Namespace,
		muc.Namespace,
		router.ChatStatesNamespace,
	}
	sort.Strings(features)
	return &discoInfo{features: features}
}

func (x *discoInfo) MatchesIQ(iq *xmpp.IQ) bool {
	return iq.IsGet() && iq.Elements().ChildNamespace("query", discoInfoNamespace) != nil
}

func (x *discoInfo) ProcessIQ(iq *xmpp.IQ) xmpp.Stanza {
	q := iq.Elements().ChildNamespace("query", discoInfoNamespace)
	if node := q.Attributes().Get("node"); len(node) > 0 {
		return xmpp.NewErrorStanzaFromStanza(iq, xmpp.ErrItemNotFound, nil)
	}
	result := iq.ResultIQ()
	query := xmpp.NewElementNamespace("query", discoInfoNamespace)
	identity := xmpp.NewElementName("identity")
	identity.SetAttribute("category", "client")
	identity.SetAttribute("type", "pc")
	identity.SetAttribute("name", version.ApplicationName)
	query.AppendElement(identity)
	for _, f := range x.features {
		feature := xmpp.NewElementName("feature")
		feature.SetAttribute("var", f)
		query.AppendElement(feature)
	}
	result.AppendElement(query)
	return result
}

// softwareVersion answers software version requests.
type softwareVersion struct{}

func (x *softwareVersion) MatchesIQ(iq *xmpp.IQ) bool {
	return iq.IsGet() && iq.Elements().ChildNamespace("query", version.Namespace) != nil
}

func (x *softwareVersion) ProcessIQ(iq *xmpp.IQ) xmpp.Stanza {
	result := iq.ResultIQ()
	result.AppendElement(version.Query())
	return result
}
