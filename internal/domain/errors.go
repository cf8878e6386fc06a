package domain

import "errors"

var (
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrCapacityReached     = errors.New("connection capacity reached")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrBufferFull          = errors.New("outbound buffer full")
	ErrInvalidTopic        = errors.New("invalid topic")
	ErrMalformedEnvelope   = errors.New("malformed envelope")
	ErrInvalidCredential   = errors.New("invalid credential")
)
