package fetch

import "strings"

// discoverLinks extracts the WebSub hub and canonical topic URLs from HTTP
// Link headers, e.g. `<https://hub.example.com/>; rel="hub"`.
func discoverLinks(header map[string][]string) (hub, self string) {
	for _, value := range header["Link"] {
		for _, part := range strings.Split(value, ",") {
			url, rel, ok := parseLinkValue(part)
			if !ok {
				continue
			}
			switch rel {
			case "hub":
				if hub == "" {
					hub = url
				}
			case "self":
				if self == "" {
					self = url
				}
			}
		}
	}
	return hub, self
}

func parseLinkValue(part string) (url, rel string, ok bool) {
	segments := strings.Split(part, ";")
	if len(segments) < 2 {
		return "", "", false
	}

	target := strings.TrimSpace(segments[0])
	if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
		return "", "", false
	}
	url = strings.Trim(target, "<>")

	for _, attr := range segments[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(attr), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		rel = strings.ToLower(strings.Trim(strings.TrimSpace(value), `"`))
		return url, rel, true
	}
	return "", "", false
}
