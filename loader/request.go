package loader

import "cineshelf/locator"

// Request names what a slot should load: either a remote URL or the string
// form of a local locator. Two requests with the same target are the same
// request.
type Request struct {
	Target string
}

// Remote requests the movie list at url.
func Remote(url string) Request {
	return Request{Target: url}
}

// Local requests the rows addressed by loc.
func Local(loc locator.Locator) Request {
	return Request{Target: loc.String()}
}

// Fingerprint identifies the request for caching and for sharing one
// execution between slots.
func (r Request) Fingerprint() string {
	return r.Target
}

func (r Request) IsEmpty() bool {
	return r.Target == ""
}
