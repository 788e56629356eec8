package caldav

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

const (
	nsDAV    = "DAV:"
	nsCalDAV = "urn:ietf:params:xml:ns:caldav"

	timeRangeLayout = "20060102T150405Z"
)

// davProp names a property to request in a PROPFIND body.
type davProp struct {
	prefix string // "D" or "C"
	name   string
}

var (
	propCurrentUserPrincipal = davProp{"D", "current-user-principal"}
	propCalendarHomeSet      = davProp{"C", "calendar-home-set"}
	propResourceType         = davProp{"D", "resourcetype"}
	propDisplayName          = davProp{"D", "displayname"}
)

func newDocument(root string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	el := doc.CreateElement(root)
	el.CreateAttr("xmlns:D", nsDAV)
	el.CreateAttr("xmlns:C", nsCalDAV)
	return doc, el
}

func buildPropfind(props ...davProp) ([]byte, error) {
	doc, root := newDocument("D:propfind")
	prop := root.CreateElement("D:prop")
	for _, p := range props {
		prop.CreateElement(p.prefix + ":" + p.name)
	}
	return doc.WriteToBytes()
}

// buildCalendarQuery renders a calendar-query REPORT asking for the etag and
// calendar data of every VEVENT overlapping [start, end).
func buildCalendarQuery(start, end time.Time) ([]byte, error) {
	doc, root := newDocument("C:calendar-query")

	prop := root.CreateElement("D:prop")
	prop.CreateElement("D:getetag")
	prop.CreateElement("C:calendar-data")

	filter := root.CreateElement("C:filter")
	vcal := filter.CreateElement("C:comp-filter")
	vcal.CreateAttr("name", "VCALENDAR")
	vevent := vcal.CreateElement("C:comp-filter")
	vevent.CreateAttr("name", "VEVENT")
	tr := vevent.CreateElement("C:time-range")
	tr.CreateAttr("start", start.UTC().Format(timeRangeLayout))
	tr.CreateAttr("end", end.UTC().Format(timeRangeLayout))

	return doc.WriteToBytes()
}

// davResponse is one <D:response> of a multistatus body. Props only holds
// properties reported with a 2xx propstat status.
type davResponse struct {
	Href  string
	Props map[string]*etree.Element
}

func (r davResponse) text(name string) string {
	if el, ok := r.Props[name]; ok {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

// href returns the text of the first <D:href> under the named property,
// e.g. current-user-principal or calendar-home-set.
func (r davResponse) href(name string) string {
	el, ok := r.Props[name]
	if !ok {
		return ""
	}
	if h := child(el, "href"); h != nil {
		return strings.TrimSpace(h.Text())
	}
	return ""
}

// isCalendar reports whether resourcetype contains a <C:calendar/> marker.
func (r davResponse) isCalendar() bool {
	el, ok := r.Props[propResourceType.name]
	if !ok {
		return false
	}
	return child(el, "calendar") != nil
}

func parseMultistatus(data []byte) ([]davResponse, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse multistatus: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "multistatus" {
		return nil, fmt.Errorf("parse multistatus: missing multistatus root element")
	}

	var out []davResponse
	for _, resp := range children(root, "response") {
		r := davResponse{Props: make(map[string]*etree.Element)}
		if h := child(resp, "href"); h != nil {
			r.Href = strings.TrimSpace(h.Text())
		}
		for _, ps := range children(resp, "propstat") {
			if !statusOK(child(ps, "status")) {
				continue
			}
			prop := child(ps, "prop")
			if prop == nil {
				continue
			}
			for _, p := range prop.ChildElements() {
				r.Props[p.Tag] = p
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// statusOK accepts a missing status element as success; some servers omit it
// on single-propstat responses.
func statusOK(el *etree.Element) bool {
	if el == nil {
		return true
	}
	fields := strings.Fields(el.Text())
	return len(fields) >= 2 && strings.HasPrefix(fields[1], "2")
}

func child(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func children(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}
