package realtime

import (
	"net/url"
)

// Endpoint locates the realtime channel for one user. The user identifier is
// supplied by the authentication layer; the Secure flag mirrors the transport
// security of the page the client runs on.
type Endpoint struct {
	Host   string
	UserID string
	Secure bool
}

// URL builds the channel endpoint: ws://<host>/ws/<userID>, or wss when the
// endpoint is secure.
func (e Endpoint) URL() url.URL {
	scheme := "ws"
	if e.Secure {
		scheme = "wss"
	}
	return url.URL{
		Scheme:  scheme,
		Host:    e.Host,
		Path:    "/ws/" + e.UserID,
		RawPath: "/ws/" + url.PathEscape(e.UserID),
	}
}

func (e Endpoint) String() string {
	u := e.URL()
	return u.String()
}
