package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrCodeCollision — вставка комнаты упёрлась в unique index по коду;
	// вызывающий генерирует новый код и повторяет.
	ErrCodeCollision = errors.New("room code already taken")
)
