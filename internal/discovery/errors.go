package discovery

import "errors"

var (
	ErrUnauthorized = errors.New("token rejected by gateway endpoint")
	ErrRateLimited  = errors.New("rate limited by gateway endpoint")
)
