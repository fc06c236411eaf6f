package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room full")
	ErrNoPublisherAvail    = errors.New("no publisher available")
	ErrTrackNotFound       = errors.New("track not found")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrInvalidSDP          = errors.New("invalid sdp")
	ErrTokenInvalid        = errors.New("token invalid")
	ErrTokenExpired        = errors.New("token expired")
	ErrRoleInsufficient    = errors.New("role insufficient")
	ErrUserNotInQueue      = errors.New("user not in queue")
	ErrUserAlreadyQueued   = errors.New("user already in queue")
	ErrUserAlreadyMatched  = errors.New("user already in a match")
	ErrMatchNotFound       = errors.New("match session not found")
	ErrLockNotAcquired     = errors.New("per-user match lock not acquired")
)
