package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/roach88/planmirror/internal/ir"
)

// Path patterns identifying an entity of the other system inside a hyperlink.
var (
	// planningFeaturePath matches planning feature URLs: .../features/<id>
	planningFeaturePath = regexp.MustCompile(`/features/([A-Za-z0-9][A-Za-z0-9-]*)/?$`)

	// trackingWorkItemPath matches tracking work item URLs: .../_workitems/edit/<n>
	trackingWorkItemPath = regexp.MustCompile(`/_workitems/edit/([0-9]+)/?$`)
)

// linkSpec describes where a source keeps its outbound links and which
// entries count as hyperlinks.
type linkSpec struct {
	listKeys []string // arrays holding link entries
	typeKeys []string // entry properties naming the link type
	urlKeys  []string // entry properties holding the URL
	types    []string // link type values that mark a hyperlink (case-insensitive)
}

var (
	planningLinks = linkSpec{
		listKeys: []string{"links", "relations"},
		typeKeys: []string{"type", "rel"},
		urlKeys:  []string{"url", "href"},
		types:    []string{"hyperlink", "integration"},
	}
	trackingLinks = linkSpec{
		listKeys: []string{"relations", "links"},
		typeKeys: []string{"rel", "type"},
		urlKeys:  []string{"url", "href"},
		types:    []string{"hyperlink"},
	}
)

// crossSystemRef scans the payload's link list for hyperlinks into the other
// system and returns the referenced id only when exactly one link matches.
// Zero or several matching links leave the reference unresolved, even when
// they point at the same target.
func crossSystemRef(src ir.SourceSystem, doc ir.Document, opts Options) string {
	spec, pattern, host := trackingLinks, planningFeaturePath, opts.PlanningHost
	if src == ir.SourcePlanning {
		spec, pattern, host = planningLinks, trackingWorkItemPath, opts.TrackingHost
	}

	var found []string
	for _, listKey := range spec.listKeys {
		entries, ok := doc.List(listKey)
		if !ok {
			continue
		}
		for _, e := range entries {
			obj, ok := ir.AsDocument(e)
			if !ok || !spec.isHyperlink(obj) {
				continue
			}
			if id, ok := matchLink(spec.url(obj), pattern, host); ok {
				found = append(found, id)
			}
		}
	}

	if len(found) != 1 {
		return ""
	}
	return found[0]
}

func (s linkSpec) isHyperlink(entry ir.Document) bool {
	for _, k := range s.typeKeys {
		v, ok := entry[k].(string)
		if !ok {
			continue
		}
		for _, t := range s.types {
			if strings.EqualFold(strings.TrimSpace(v), t) {
				return true
			}
		}
		return false
	}
	return false
}

func (s linkSpec) url(entry ir.Document) string {
	for _, k := range s.urlKeys {
		if v, ok := entry[k].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// matchLink applies the path pattern to a URL. When host is set, the URL's
// host must equal it or be a subdomain of it.
func matchLink(raw string, pattern *regexp.Regexp, host string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if host != "" {
		h := strings.ToLower(u.Hostname())
		host = strings.ToLower(host)
		if h != host && !strings.HasSuffix(h, "."+host) {
			return "", false
		}
	}
	m := pattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// workItemAPIPath matches tracking REST URLs of work items: .../workItems/<n>
var workItemAPIPath = regexp.MustCompile(`/workItems/([0-9]+)/?$`)
