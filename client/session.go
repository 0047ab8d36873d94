package client

import "context"

// Session supplies the identity of the signed-in user to every call.
type Session interface {
	Token(ctx context.Context) (string, error)
	CurrentUserEmail() string
}

// StaticSession is a Session with a fixed token, such as one returned by
// the login endpoint.
type StaticSession struct {
	AccessToken string
	Email       string
}

func (s StaticSession) Token(context.Context) (string, error) {
	if s.AccessToken == "" {
		return "", &AuthError{Message: "not signed in"}
	}
	return s.AccessToken, nil
}

func (s StaticSession) CurrentUserEmail() string {
	return s.Email
}
