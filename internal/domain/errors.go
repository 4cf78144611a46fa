package domain

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrRoomNotOpen   = errors.New("room is not joinable")
	ErrWrongPassword = errors.New("wrong room password")
	ErrAlreadyMember = errors.New("user already has an active membership")
	ErrNotInRoom     = errors.New("user not in the room")
	ErrNotHost       = errors.New("requester is not the room host")

	ErrTooFewPlayers = errors.New("not enough players to start")
	ErrNoRealPlayers = errors.New("no real players in the room")
	ErrNotReady      = errors.New("not all players are ready")

	ErrInviteNotFound = errors.New("invite not found or expired")
	ErrNotFriends     = errors.New("inviter and invitee are not friends")
	ErrSelfInvite     = errors.New("cannot invite yourself")

	ErrCodeExhausted = errors.New("could not allocate a unique room code")

	// ErrTransient — конфликт в хранилище; повтор с backoff на стороне вызывающего.
	ErrTransient = errors.New("transient storage conflict")
)
